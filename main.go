package main

import (
	"feedscroll/cmd/scrape"
	"feedscroll/db"
	"feedscroll/log"
	"fmt"
	"net/http"
	"os"

	_ "net/http/pprof"

	"github.com/spf13/cobra"
)

func main() {
	var pprofAddr string
	rootCmd := &cobra.Command{
		Use:           "feedscroll",
		Short:         "Scrape infinite-scroll feeds into structured posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if pprofAddr == "" {
				return
			}
			go func() {
				fmt.Println(http.ListenAndServe(pprofAddr, nil))
			}()
		},
	}
	rootCmd.PersistentFlags().StringVar(&pprofAddr, "pprof-addr", "", "serve pprof on this address")
	rootCmd.AddCommand(scrape.Scrape)
	rootCmd.AddCommand(scrape.Profile)
	rootCmd.AddCommand(db.DbCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed")
		os.Exit(1)
	}
}
