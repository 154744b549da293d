package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-mailer/internal/webhook"
)

// newSignWebhookCmd signs a payload the way the provider does, for replaying
// events against a local server.
func newSignWebhookCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign-webhook [file]",
		Short: "Print signature headers for a webhook payload (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			payload, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv("WEBHOOK_SECRET")
			}

			sig, err := webhook.SignPayload(secret, payload, time.Now())
			if err != nil {
				return err
			}
			h := http.Header{}
			sig.Apply(h)
			for _, name := range []string{webhook.HeaderSignature, webhook.HeaderTimestamp, webhook.HeaderID} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, h.Get(name))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to WEBHOOK_SECRET)")
	return cmd
}
