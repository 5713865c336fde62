package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jack/shortlink-resolver/internal/codegen"
	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/service"
)

var createFlags struct {
	url       string
	code      string
	owner     string
	expiresIn string
	maxUses   int64
	password  string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a short link",
	Long: `Creates a short link for a target URL and prints its code.

Example:
  shortlink create --url="https://example.com/launch" --expires-in=7d --max-uses=100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := openStores(false)
		if err != nil {
			return err
		}
		defer stores.Close()

		svc := service.NewLinkService(stores.Links, stores.Events, codegen.NewGenerator(&cfg.Code), cfg, zapLogger)

		req := &model.CreateLinkRequest{
			TargetURL:     createFlags.url,
			RequestedCode: createFlags.code,
			ExpiresIn:     createFlags.expiresIn,
			Password:      createFlags.password,
		}
		if createFlags.maxUses > 0 {
			req.MaxUses = &createFlags.maxUses
		}

		resp, err := svc.CreateLink(cmd.Context(), createFlags.owner, req)
		if err != nil {
			return fmt.Errorf("failed to create link: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Code:      %s\n", resp.Code)
		fmt.Fprintf(out, "Short URL: %s\n", resp.ShortURL)
		if resp.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires:   %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		if resp.MaxUses != nil {
			fmt.Fprintf(out, "Max uses:  %d\n", *resp.MaxUses)
		}
		return nil
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createFlags.url, "url", "u", "", "target URL (http or https)")
	f.StringVarP(&createFlags.code, "code", "c", "", "custom short code")
	f.StringVar(&createFlags.owner, "owner", "", "owner ID allowed to manage the link")
	f.StringVar(&createFlags.expiresIn, "expires-in", "", "lifetime such as 24h or 7d")
	f.Int64Var(&createFlags.maxUses, "max-uses", 0, "maximum number of redirects, 0 for unlimited")
	f.StringVar(&createFlags.password, "password", "", "password required to follow the link")
	_ = createCmd.MarkFlagRequired("url")
}
