package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/faanross/pngrsa/internal/keyserver"
	"github.com/faanross/pngrsa/internal/keystore"
)

const (
	optionNamePublish = "publish"
	optionNameServer  = "server"
	optionNameState   = "state"
	optionNameMaxAge  = "max-age"
)

func (c *command) initKeyServerCmds() {
	serveCmd := &cobra.Command{
		Use:   "keyserve",
		Short: "Publish public keys as DNS TXT records",
		Long: `Publish public keys as DNS TXT records.

Each --publish label=keyfile serves the public half of keyfile under
label.<zone>. Without --publish, and with no keys left in --state, the
configured key file is served under the label "default".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			addr, zone := c.serverSettings(cmd)

			state, _ := cmd.Flags().GetString(optionNameState)
			store := keyserver.NewStore()
			if state != "" {
				var err error
				if store, err = keyserver.LoadStore(state); err != nil {
					return err
				}
				fmt.Fprintf(out, "📁 Using persistent storage (%s, %d keys)\n", state, store.Stats().Keys)
			}
			srv := keyserver.NewServer(zone, store, c.logger)

			entries, _ := cmd.Flags().GetStringArray(optionNamePublish)
			if len(entries) == 0 && store.Stats().Keys == 0 {
				entries = []string{"default=" + c.settings.KeyFile}
			}
			for _, e := range entries {
				label, path, ok := strings.Cut(e, "=")
				if !ok || label == "" || path == "" {
					return fmt.Errorf("invalid --%s %q, want label=keyfile", optionNamePublish, e)
				}
				kp, _, err := keystore.LoadPublic(path)
				if err != nil {
					return err
				}
				rec, err := store.Publish(srv.Name(label), kp)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "📍 %s: %d-bit key %s (%d TXT strings)\n",
					rec.Name, rec.Bits, keystore.Fingerprint(kp), len(rec.Txt))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			maxAge, _ := cmd.Flags().GetDuration(optionNameMaxAge)
			if maxAge > 0 {
				go expire(ctx, store, maxAge, c.logger)
			}

			fmt.Fprintf(out, "\n🌐 Key server starting on %s\n", addr)
			fmt.Fprintf(out, "📍 Zone: %s\n", dns.Fqdn(zone))
			err := srv.ListenAndServe(ctx, addr, func() {
				fmt.Fprintln(out, "✅ Server ready!")
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "\n🛑 Shutting down...")
			if state != "" {
				if err := store.Save(state); err != nil {
					return err
				}
				fmt.Fprintln(out, "💾 State saved to disk")
			}

			stats := store.Stats()
			fmt.Fprintf(out, "\n📊 Key server statistics:\n")
			fmt.Fprintf(out, "   Keys: %d\n", stats.Keys)
			fmt.Fprintf(out, "   Queries: %d\n", stats.Queries)
			fmt.Fprintf(out, "   Misses: %d\n", stats.Misses)
			return nil
		},
	}
	serveCmd.Flags().String(optionNameServerAddr, "", "UDP listen address (default is the configured keyserver.addr)")
	serveCmd.Flags().String(optionNameZone, "", "zone the keys are published under")
	serveCmd.Flags().StringArray(optionNamePublish, nil, "label=keyfile to publish, can be repeated")
	serveCmd.Flags().String(optionNameState, "", "JSON file the published keys are loaded from and saved to")
	serveCmd.Flags().Duration(optionNameMaxAge, 0, "withdraw keys published longer ago than this (0 keeps them)")
	c.root.AddCommand(serveCmd)

	fetchCmd := &cobra.Command{
		Use:   "keyfetch <name>",
		Short: "Fetch a published public key and save it as a key file",
		Long: `Fetch a published public key and save it as a key file.

A name without dots is taken as a label under the configured zone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, zone := c.serverSettings(cmd)
			if remote, _ := cmd.Flags().GetString(optionNameServer); remote != "" {
				addr = remote
			} else if c.settings.KeyServer.Remote != "" {
				addr = c.settings.KeyServer.Remote
			}

			name := args[0]
			if !strings.Contains(strings.TrimSuffix(name, "."), ".") {
				name = strings.TrimSuffix(name, ".") + "." + zone
			}
			name = dns.Fqdn(name)

			kp, err := keyserver.Fetch(cmd.Context(), addr, name)
			if err != nil {
				return fmt.Errorf("fetch %s from %s: %w", name, addr, err)
			}

			path, _ := cmd.Flags().GetString(optionNameOutput)
			if path == "" {
				label, _, _ := strings.Cut(name, ".")
				path = label + ".pub.json"
			}
			f, err := keystore.SavePublic(path, kp)
			if err != nil {
				return err
			}
			c.logger.WithFields(logrus.Fields{"name": name, "key_id": f.ID}).Debug("public key saved")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✅ Fetched %s from %s\n", name, addr)
			fmt.Fprintf(out, "   %d-bit key, fingerprint %s\n", kp.Bits(), keystore.Fingerprint(kp))
			fmt.Fprintf(out, "   Saved to: %s\n", path)
			return nil
		},
	}
	fetchCmd.Flags().String(optionNameServer, "", "key server address (default is keyserver.remote, then keyserver.addr)")
	fetchCmd.Flags().String(optionNameZone, "", "zone for names given without dots")
	fetchCmd.Flags().StringP(optionNameOutput, "o", "", "public key file to write (default is <label>.pub.json)")
	c.root.AddCommand(fetchCmd)
}

// serverSettings returns the listen address and zone, flags first.
func (c *command) serverSettings(cmd *cobra.Command) (addr, zone string) {
	addr, zone = c.settings.KeyServer.Addr, c.settings.KeyServer.Zone
	if cmd.Flags().Lookup(optionNameServerAddr) != nil {
		if v, _ := cmd.Flags().GetString(optionNameServerAddr); v != "" {
			addr = v
		}
	}
	if v, _ := cmd.Flags().GetString(optionNameZone); v != "" {
		zone = v
	}
	return addr, zone
}

func expire(ctx context.Context, store *keyserver.Store, maxAge time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Expire(maxAge); removed > 0 {
				log.WithField("removed", removed).Info("expired keys withdrawn")
			}
		}
	}
}
