package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

var (
	flagSystem      string
	flagStream      bool
	flagTemperature float64
	flagMaxTokens   int
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Send a prompt to a model and print the response",
	Long:  "Sends a prompt to the selected model. The prompt comes from the arguments, or from stdin when no arguments are given.",
	Args:  cobra.ArbitraryArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&flagSystem, "system", "", "System prompt")
	generateCmd.Flags().BoolVar(&flagStream, "stream", false, "Stream the response as it is generated")
	generateCmd.Flags().Float64VarP(&flagTemperature, "temperature", "t", 0, "Sampling temperature (0.0-2.0)")
	generateCmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "Maximum output tokens")
	rootCmd.AddCommand(generateCmd)
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	gw, cleanup, err := newGateway(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	// Model, region and version flags flow in through the config overlay.
	var req domain.CallRequest
	if flagSystem != "" {
		req.Messages = append(req.Messages, domain.Message{Role: "system", Content: flagSystem})
	}
	req.Messages = append(req.Messages, domain.Message{Role: "user", Content: prompt})

	if cmd.Flags().Changed("temperature") {
		req.Temperature = &flagTemperature
	}
	if cmd.Flags().Changed("max-tokens") {
		req.MaxTokens = &flagMaxTokens
	}

	if flagStream {
		chunks, errs := gw.GenerateStream(ctx, req)
		for chunk := range chunks {
			fmt.Print(chunk.Content)
		}
		fmt.Println()
		if err := <-errs; err != nil {
			return err
		}
		return nil
	}

	result, err := gw.Generate(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	return nil
}
