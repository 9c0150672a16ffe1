package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

var (
	buildMode      string
	buildModel     string
	buildSheet     string
	buildSelection string
	buildQuestion  string
	buildPayload   bool
)

var buildCmd = &cobra.Command{
	Use:   "build <workbook.xlsx>",
	Short: "Assemble model context for one workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if buildMode != "" {
			cfg.Build.Mode = buildMode
		}
		if buildModel != "" {
			cfg.Build.Model = buildModel
		}

		env, err := initBuilder(ctx, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		input, err := resolveInput(env, buildSheet, buildSelection, buildQuestion)
		if err != nil {
			return err
		}

		result, err := env.Builder.Build(ctx, input)
		if err != nil {
			return eris.Wrap(err, "build context")
		}

		zap.L().Info("context built",
			zap.String("workbook", result.Payload.WorkbookID),
			zap.Int("budget_tokens", result.Payload.Budget.MaxPromptContextTokens),
			zap.Int("sheets", len(result.Payload.Sheets)),
			zap.Int("blocks", len(result.Payload.Blocks)),
		)

		if buildPayload {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Payload)
		}

		fmt.Println(result.PromptContext)
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildMode, "mode", "", "build mode (chat, agent, inline_edit; default from config)")
	buildCmd.Flags().StringVar(&buildModel, "model", "", "target model for budget sizing (default from config)")
	buildCmd.Flags().StringVar(&buildSheet, "sheet", "", "active sheet name (default first sheet)")
	buildCmd.Flags().StringVar(&buildSelection, "selection", "", "selected range, e.g. A1:C10 or Revenue!A1:C10")
	buildCmd.Flags().StringVar(&buildQuestion, "question", "", "user question driving retrieval")
	buildCmd.Flags().BoolVar(&buildPayload, "payload", false, "print the structured payload as JSON instead of the prompt text")
	rootCmd.AddCommand(buildCmd)
}

// resolveInput maps user-facing sheet names and A1 references onto the
// stable-id build input.
func resolveInput(env *builderEnv, sheet, selection, question string) (contextbuild.BuildInput, error) {
	input := contextbuild.BuildInput{
		FocusQuestion: question,
		DLP:           env.DLP,
	}

	activeID, err := resolveSheetID(env, sheet)
	if err != nil {
		return input, err
	}
	input.ActiveSheetID = activeID

	if selection != "" {
		if strings.Contains(selection, "!") {
			ref, err := rangeref.ParseRef(selection)
			if err != nil {
				return input, eris.Wrap(err, "parse selection")
			}
			id, err := resolveSheetID(env, ref.SheetName)
			if err != nil {
				return input, err
			}
			input.SelectedRange = &contextbuild.SheetRange{SheetID: id, Rect: ref.Rect}
			return input, nil
		}
		rect, err := rangeref.ParseRect(selection)
		if err != nil {
			return input, eris.Wrap(err, "parse selection")
		}
		input.SelectedRange = &contextbuild.SheetRange{SheetID: activeID, Rect: rect}
	}

	return input, nil
}

// resolveSheetID accepts a display name or a stable id; empty means the
// first sheet in the workbook.
func resolveSheetID(env *builderEnv, sheet string) (string, error) {
	if sheet == "" {
		ids := env.Workbook.SheetIDs()
		if len(ids) == 0 {
			return "", eris.New("workbook has no sheets")
		}
		return ids[0], nil
	}
	if id, ok := env.Workbook.SheetID(sheet); ok {
		return id, nil
	}
	if _, ok := env.Workbook.DisplayName(sheet); ok {
		return sheet, nil
	}
	return "", eris.Errorf("unknown sheet %q", sheet)
}
