package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ferro-labs/videoforge/contract"
)

func newGenerateCmd() *cobra.Command {
	var (
		serverURL string
		provider  string
		model     string
		prompt    string
		mediaType string
		timeoutMs int
	)

	generateCmd := &cobra.Command{
		Use:     "generate",
		Short:   "Submit a one-shot generation request to a running videoforge-server",
		Example: `videoforge-cli generate --server http://localhost:8080 --provider auto --model sora-2 --prompt "a dog on a skateboard"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := contract.UnifiedRequest{
				RequestID:     uuid.NewString(),
				SchemaVersion: contract.V2_0,
				Provider:      provider,
				Model:         model,
				Prompt:        prompt,
				MediaType:     contract.MediaType(mediaType),
				Parameters:    map[string]any{},
				TimeoutMs:     timeoutMs,
				CreatedAt:     time.Now(),
			}
			body, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			httpResp, err := http.Post(serverURL+"/v1/generate", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("calling videoforge-server: %w", err)
			}
			defer func() { _ = httpResp.Body.Close() }()

			var resp contract.UnifiedResponse
			if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	generateCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "videoforge-server base URL")
	generateCmd.Flags().StringVar(&provider, "provider", contract.AutoProvider, "provider name, or \"auto\" to let the router choose")
	generateCmd.Flags().StringVar(&model, "model", "", "model id (required)")
	generateCmd.Flags().StringVar(&prompt, "prompt", "", "creative prompt text (required)")
	generateCmd.Flags().StringVar(&mediaType, "media-type", "video", "image|video|audio|text")
	generateCmd.Flags().IntVar(&timeoutMs, "timeout-ms", 60000, "request timeout in milliseconds")
	_ = generateCmd.MarkFlagRequired("model")
	_ = generateCmd.MarkFlagRequired("prompt")

	return generateCmd
}
