package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"expertpanel-backend/config"
	"expertpanel-backend/models"
	"expertpanel-backend/repository"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func decodeEvent(ev sseEvent, out any) error {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		return fmt.Errorf("malformed %s event: %w", ev.Name, err)
	}
	return nil
}

// decodeDone unwraps the result carried by a done event
func decodeDone(ev sseEvent, out any) error {
	var done struct {
		Result json.RawMessage `json:"result"`
	}
	if err := decodeEvent(ev, &done); err != nil {
		return err
	}
	return json.Unmarshal(done.Result, out)
}

func newExpertsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "experts",
		Short: "List the available expert plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var experts []models.Plugin
			if err := g.client().do(cmd.Context(), "GET", "/api/experts", nil, &experts); err != nil {
				return err
			}
			if len(experts) == 0 {
				color.Yellow("No experts registered. Seed some with: expertctl seed <file>")
				return nil
			}
			for _, p := range experts {
				fmt.Printf("%s  %s  %s\n", color.CyanString("%-20s", p.Slug), p.Name, color.HiBlackString("(%s, v%s)", p.Domain, p.Version))
			}
			return nil
		},
	}
}

func newAskCmd(g *globalOptions) *cobra.Command {
	var (
		stream bool
		topK   int
	)

	cmd := &cobra.Command{
		Use:   "ask <expert> <question...>",
		Short: "Ask one expert a question and print its grounded answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			body := map[string]any{"query": strings.Join(args[1:], " ")}
			if topK > 0 {
				body["top_k"] = topK
			}
			path := "/api/experts/" + slug + "/ask"

			if !stream {
				var answer models.Answer
				if err := g.client().do(cmd.Context(), "POST", path, body, &answer); err != nil {
					return err
				}
				fmt.Println(answer.Answer)
				printAnswerFooter(&answer)
				return nil
			}

			var answer models.Answer
			err := g.client().stream(cmd.Context(), path+"/stream", body, func(ev sseEvent) error {
				switch ev.Name {
				case "status":
					var s models.StatusEvent
					if err := decodeEvent(ev, &s); err == nil {
						fmt.Fprintln(os.Stderr, color.HiBlackString("… %s", s.Message))
					}
				case "text-delta":
					var d models.TextDeltaEvent
					if err := decodeEvent(ev, &d); err != nil {
						return err
					}
					fmt.Print(d.Text)
				case "tool-call":
					var t models.ToolCallEvent
					if err := decodeEvent(ev, &t); err == nil {
						fmt.Fprintln(os.Stderr, color.YellowString("\n⚙ %s", t.Tool))
					}
				case "done":
					if err := decodeDone(ev, &answer); err != nil {
						return err
					}
					return errStopStream
				case "error":
					return streamError(ev)
				}
				return nil
			})
			if err != nil {
				return err
			}

			// streamed text is uncleaned model output; a refusal replaces it
			fmt.Println()
			if answer.Refused {
				fmt.Println()
				color.Yellow("%s", answer.Answer)
			}
			printAnswerFooter(&answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", true, "stream the answer as it is generated")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of reference chunks to retrieve (server default when 0)")
	return cmd
}

func printAnswerFooter(a *models.Answer) {
	fmt.Println()
	if a.Recommendation != nil {
		fmt.Printf("%s %s\n", color.MagentaString("Recommendation:"), a.Recommendation.Recommendation)
	}
	for _, c := range a.Citations {
		loc := c.Document
		if c.Section != nil {
			loc += " › " + *c.Section
		}
		if c.Page != nil {
			loc += fmt.Sprintf(" (p. %d)", *c.Page)
		}
		fmt.Printf("  %s %s\n", color.CyanString("[Source %d]", c.SourceRank), loc)
	}
	fmt.Printf("%s %s  %s\n", color.HiBlackString("confidence:"), colorConfidence(a.Confidence), color.HiBlackString("%dms", a.LatencyMs))
}

func colorConfidence(c models.Confidence) string {
	switch c {
	case models.ConfidenceHigh:
		return color.GreenString(string(c))
	case models.ConfidenceMedium:
		return color.YellowString(string(c))
	default:
		return color.RedString(string(c))
	}
}

func newCollaborateCmd(g *globalOptions) *cobra.Command {
	var (
		experts []string
		mode    string
		rounds  int
	)

	cmd := &cobra.Command{
		Use:   "collaborate <question...>",
		Short: "Run a multi-expert deliberation and print the consensus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"plugin_slugs": experts,
				"query":        strings.Join(args, " "),
				"mode":         mode,
			}
			if rounds > 0 {
				body["max_rounds"] = rounds
			}

			var result models.CollaborationResult
			err := g.client().stream(cmd.Context(), "/api/collaborate/stream", body, func(ev sseEvent) error {
				switch ev.Name {
				case "round_start":
					var r models.RoundStartEvent
					if err := decodeEvent(ev, &r); err != nil {
						return err
					}
					color.Cyan("\n── Round %d ──", r.Round)
				case "expert_thinking":
					var t models.ExpertThinkingEvent
					if err := decodeEvent(ev, &t); err == nil {
						fmt.Fprintln(os.Stderr, color.HiBlackString("… %s is thinking", t.PluginSlug))
					}
				case "expert_response":
					var r models.ExpertResponseEvent
					if err := decodeEvent(ev, &r); err != nil {
						return err
					}
					printExpertResponse(r.Response)
				case "synthesizing":
					fmt.Fprintln(os.Stderr, color.HiBlackString("\n… synthesizing consensus"))
				case "done":
					if err := decodeDone(ev, &result); err != nil {
						return err
					}
					return errStopStream
				case "error":
					return streamError(ev)
				}
				return nil
			})
			if err != nil {
				return err
			}

			printConsensus(&result.Consensus)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&experts, "experts", "e", nil, "comma-separated expert slugs (at least two)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(models.ModeDebate), "debate, consensus or review")
	cmd.Flags().IntVarP(&rounds, "rounds", "r", 0, "maximum deliberation rounds (mode default when 0)")
	_ = cmd.MarkFlagRequired("experts")
	return cmd
}

func printExpertResponse(r models.ExpertResponse) {
	header := color.New(color.Bold).Sprintf("%s", r.PluginName)
	if r.Revised {
		header += color.YellowString(" (revised)")
	}
	fmt.Printf("\n%s %s\n%s\n", header, colorConfidence(r.Confidence), r.Answer)
}

func printConsensus(c *models.ConsensusData) {
	color.Green("\n══ Consensus ══")
	fmt.Println(c.Answer)
	fmt.Printf("\n%s %s  %s %.0f%%\n",
		color.HiBlackString("confidence:"), colorConfidence(c.Confidence),
		color.HiBlackString("agreement:"), c.AgreementLevel*100)

	for _, conflict := range c.Conflicts {
		fmt.Printf("%s %s\n", color.RedString("Conflict:"), conflict.Topic)
		for _, p := range conflict.Positions {
			fmt.Printf("  %s: %s\n", color.CyanString(p.PluginSlug), p.Position)
		}
	}
	for _, contrib := range c.ExpertContributions {
		fmt.Printf("%s\n", color.CyanString(contrib.PluginName))
		for _, kp := range contrib.KeyPoints {
			fmt.Printf("  - %s\n", kp)
		}
	}
}

func newReviewCmd(g *globalOptions) *cobra.Command {
	var (
		title  string
		fileID string
	)

	cmd := &cobra.Command{
		Use:   "review <expert> [document]",
		Short: "Review a document against an expert's knowledge base",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"plugin_slug": args[0]}
			switch {
			case fileID != "":
				if _, err := uuid.Parse(fileID); err != nil {
					return fmt.Errorf("invalid --file-id: %w", err)
				}
				body["file_id"] = fileID
			case len(args) == 2:
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				body["content"] = string(data)
				if title == "" {
					title = filepath.Base(args[1])
				}
			default:
				return errors.New("pass a document path or --file-id")
			}
			if title != "" {
				body["title"] = title
			}

			var (
				bar    *progressbar.ProgressBar
				result models.ReviewResult
			)
			err := g.client().stream(cmd.Context(), "/api/review/stream", body, func(ev sseEvent) error {
				switch ev.Name {
				case "review_start":
					var s models.ReviewStartEvent
					if err := decodeEvent(ev, &s); err != nil {
						return err
					}
					bar = progressbar.NewOptions(s.TotalBatches,
						progressbar.OptionSetDescription(color.BlueString("%s (%d segments)", s.DocumentTitle, s.TotalSegments)),
						progressbar.OptionSetItsString("batches"),
						progressbar.OptionShowCount(),
						progressbar.OptionEnableColorCodes(true),
						progressbar.OptionSetWidth(40),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionSetRenderBlankState(true),
						progressbar.OptionSetVisibility(stderrIsTerminal()),
					)
				case "batch_complete":
					if bar != nil {
						_ = bar.Add(1)
					}
				case "batch_error":
					var e models.BatchErrorEvent
					if err := decodeEvent(ev, &e); err == nil {
						fmt.Fprintln(os.Stderr, color.RedString("\nbatch %d failed: %s", e.Batch, e.Error))
					}
					if bar != nil {
						_ = bar.Add(1)
					}
				case "done":
					if bar != nil {
						_ = bar.Finish()
						fmt.Fprintln(os.Stderr)
					}
					if err := decodeDone(ev, &result); err != nil {
						return err
					}
					return errStopStream
				case "error":
					return streamError(ev)
				}
				return nil
			})
			if err != nil {
				return err
			}

			printReview(&result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "document title (defaults to the file name)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "review a previously uploaded file instead of a local document")
	return cmd
}

func printReview(r *models.ReviewResult) {
	for _, a := range r.Annotations {
		var sev string
		switch a.Severity {
		case models.SeverityError:
			sev = color.RedString("ERROR  ")
		case models.SeverityWarning:
			sev = color.YellowString("WARNING")
		case models.SeverityPass:
			sev = color.GreenString("PASS   ")
		default:
			sev = color.CyanString("INFO   ")
		}
		fmt.Printf("%s %s %s\n", sev, color.HiBlackString("L%d-%d", a.StartLine, a.EndLine), a.Issue)
		if a.SuggestedFix != "" {
			fmt.Printf("        fix: %s\n", a.SuggestedFix)
		}
		for _, c := range a.Citations {
			fmt.Printf("        %s\n", color.HiBlackString("[%s]", c.Document))
		}
	}

	s := r.Summary
	fmt.Printf("\n%s  errors %d  warnings %d  info %d  pass %d",
		color.New(color.Bold).Sprint(s.OverallCompliance), s.Errors, s.Warnings, s.Info, s.Pass)
	if s.FailedBatches > 0 {
		fmt.Print(color.RedString("  failed batches %d", s.FailedBatches))
	}
	fmt.Printf("  %s %s\n", color.HiBlackString("confidence:"), colorConfidence(r.Confidence))
}

func newSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Create or update expert plugins and their decision trees from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := config.LoadSeed(args[0])
			if err != nil {
				return err
			}

			config.LoadDotEnv()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runSeed(cmd.Context(), cfg, seed)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	return cmd
}

func runSeed(ctx context.Context, cfg *config.Config, seed *config.SeedFile) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := repository.Connect(ctx, cfg.Database.URL, 2, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	plugins := repository.NewPluginRepository(db)
	trees := repository.NewDecisionTreeRepository(db)

	for _, sp := range seed.Plugins {
		p := sp.Plugin()
		if err := plugins.Upsert(ctx, p); err != nil {
			return fmt.Errorf("failed to save plugin %s: %w", sp.Slug, err)
		}

		if sp.DecisionTree == nil {
			color.Green("✓ %s", p.Slug)
			continue
		}

		tree := *sp.DecisionTree
		tree.PluginID = p.ID
		if err := trees.SaveActive(ctx, &tree); err != nil {
			return fmt.Errorf("failed to save decision tree for %s: %w", sp.Slug, err)
		}
		color.Green("✓ %s (decision tree: %d nodes)", p.Slug, len(tree.Nodes))
	}

	fmt.Printf("\nSeeded %d plugins\n", len(seed.Plugins))
	return nil
}
