package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

// Service is the part of the orchestrator the CLI drives.
type Service interface {
	IngestPDF(ctx context.Context, filename string, data []byte) (pipeline.Result, error)
	StartPDF(ctx context.Context, filename string, data []byte) (*record.Content, error)
	IngestVideo(ctx context.Context, rawURL string) (pipeline.Result, error)
	StartVideo(ctx context.Context, rawURL string) (*record.Content, error)
	Get(ctx context.Context, id string) (*record.Content, error)
	Ask(ctx context.Context, contentID, question string) (pipeline.Answer, error)
	GenerateFlashcards(ctx context.Context, contentID string, count int) ([]pipeline.Flashcard, error)
	GenerateQuiz(ctx context.Context, contentID string, count int) ([]pipeline.QuizQuestion, error)
}

type opener func(ctx context.Context) (Service, func(), error)

type cli struct {
	open    opener
	service Service
	cleanup func()
	json    bool
}

// newRootCmd builds the command tree. The returned func releases whatever
// the opener acquired and must run after Execute, whether or not it failed.
func newRootCmd(open opener) (*cobra.Command, func()) {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Ingest PDFs and videos and study them from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || c.service != nil {
				return nil
			}
			svc, cleanup, err := c.open(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialise: %w", err)
			}
			c.service, c.cleanup = svc, cleanup
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.json, "json", false, "output as JSON")

	root.AddCommand(
		c.ingestPDFCmd(),
		c.ingestVideoCmd(),
		c.statusCmd(),
		c.askCmd(),
		c.flashcardsCmd(),
		c.quizCmd(),
	)
	return root, c.close
}

func (c *cli) close() {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
}

func (c *cli) ingestPDFCmd() *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:   "ingest-pdf [path]",
		Short: "Extract, chunk and index a PDF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			name := filepath.Base(args[0])

			if background {
				rec, err := c.service.StartPDF(cmd.Context(), name, data)
				if err != nil {
					return err
				}
				return c.printRecord(cmd, rec)
			}
			res, err := c.service.IngestPDF(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			return c.printResult(cmd, res)
		},
	}
	cmd.Flags().BoolVarP(&background, "background", "b", false, "queue the file and return immediately")
	return cmd
}

func (c *cli) ingestVideoCmd() *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:   "ingest-video [youtube-url]",
		Short: "Fetch, chunk and index a YouTube transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				rec, err := c.service.StartVideo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printRecord(cmd, rec)
			}
			res, err := c.service.IngestVideo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printResult(cmd, res)
		},
	}
	cmd.Flags().BoolVarP(&background, "background", "b", false, "queue the video and return immediately")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [content-id]",
		Short: "Show the processing status of a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printRecord(cmd, rec)
		},
	}
}

func (c *cli) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [content-id] [question]",
		Short: "Ask a question about a processed content item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ans, err := c.service.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd, ans)
			}
			cmd.Println(ans.Reply)
			if len(ans.Sources) > 0 {
				cmd.Printf("\nSources: %s\n", strings.Join(ans.Sources, ", "))
			}
			return nil
		},
	}
}

func (c *cli) flashcardsCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "flashcards [content-id]",
		Short: "Generate flashcards from a processed content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := c.service.GenerateFlashcards(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd, cards)
			}
			for _, fc := range cards {
				cmd.Printf("[%d] Q: %s\n    A: %s\n\n", fc.ID, fc.Question, fc.Answer)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", pipeline.DefaultFlashcards, "number of flashcards")
	return cmd
}

func (c *cli) quizCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "quiz [content-id]",
		Short: "Generate a multiple-choice quiz from a processed content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := c.service.GenerateQuiz(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd, questions)
			}
			for _, q := range questions {
				cmd.Printf("[%d] %s\n", q.ID, q.Question)
				for _, o := range q.Options {
					cmd.Printf("    %s) %s\n", o.Label, o.Text)
				}
				cmd.Printf("    Answer: %s\n\n", q.CorrectAnswer)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", pipeline.DefaultQuestions, "number of questions")
	return cmd
}

func (c *cli) printResult(cmd *cobra.Command, res pipeline.Result) error {
	if res.Content == nil {
		return errors.New("ingestion returned no record")
	}
	if c.json {
		return printJSON(cmd, map[string]interface{}{
			"content":     res.Content,
			"pages_count": res.Pages,
			"duration":    res.Duration,
		})
	}
	cmd.Printf("Processed %s (%s)\n", res.Content.Title, res.Content.ID)
	cmd.Printf("  Chunks: %d\n", res.Content.ChunksCount)
	if res.Pages > 0 {
		cmd.Printf("  Pages: %d\n", res.Pages)
	}
	if res.Duration > 0 {
		cmd.Printf("  Duration: %ds\n", res.Duration)
	}
	return nil
}

func (c *cli) printRecord(cmd *cobra.Command, rec *record.Content) error {
	if c.json {
		return printJSON(cmd, rec)
	}
	cmd.Printf("%s  %s  %s\n", rec.ID, rec.Status, rec.Title)
	switch rec.Status {
	case record.StatusProcessed:
		cmd.Printf("  Chunks: %d\n", rec.ChunksCount)
	case record.StatusFailed:
		cmd.Printf("  Error: %s\n", rec.ErrorMessage())
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
