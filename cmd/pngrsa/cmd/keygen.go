package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/faanross/pngrsa/internal/keystore"
	"github.com/faanross/pngrsa/internal/rsakey"
)

const (
	optionNameOutput   = "output"
	optionNamePublic   = "public"
	optionNameInsecure = "insecure"
)

func (c *command) initKeygenCmd() {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keypair and write it to the key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bits := c.settings.KeyBits

			path, _ := cmd.Flags().GetString(optionNameOutput)
			if path == "" {
				path = c.settings.KeyFile
			}

			var password []byte
			if insecure, _ := cmd.Flags().GetBool(optionNameInsecure); !insecure {
				var err error
				password, err = c.newPassword(cmd)
				if err != nil {
					return err
				}
			}

			kp, elapsed, err := generate(cmd, bits)
			if err != nil {
				return err
			}

			f, err := keystore.Save(path, kp, password)
			if err != nil {
				return err
			}
			c.logger.WithField("key_id", f.ID).Debug("key file written")

			fmt.Fprintf(out, "\n✅ Generated %d-bit keypair in %v\n", f.Bits, elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "   Key file: %s\n", path)
			fmt.Fprintf(out, "   Key ID: %s\n", f.ID)
			fmt.Fprintf(out, "   Fingerprint: %s\n", keystore.Fingerprint(kp))
			if f.Sealed != nil {
				fmt.Fprintf(out, "   Private exponent: sealed (%s, %d iterations)\n", f.Sealed.KDF, f.Sealed.Iterations)
			} else {
				fmt.Fprintf(out, "   ⚠️  Private exponent stored unencrypted\n")
			}

			if pub, _ := cmd.Flags().GetString(optionNamePublic); pub != "" {
				if _, err := keystore.SavePublic(pub, kp); err != nil {
					return err
				}
				fmt.Fprintf(out, "   Public key: %s\n", pub)
			}
			return nil
		},
	}

	cmd.Flags().StringP(optionNameOutput, "o", "", "key file to write (default is the configured key file)")
	cmd.Flags().String(optionNamePublic, "", "also write the public half to this file")
	cmd.Flags().Bool(optionNameInsecure, false, "store the private exponent without a password")
	addPasswordFlags(cmd)
	c.root.AddCommand(cmd)
}

// generate runs key generation behind a spinner on the error output.
func generate(cmd *cobra.Command, bits int) (*rsakey.KeyPair, time.Duration, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(fmt.Sprintf("🔐 Generating %d-bit keypair", bits)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	type generated struct {
		kp  *rsakey.KeyPair
		err error
	}
	start := time.Now()
	done := make(chan generated, 1)
	go func() {
		kp, err := rsakey.Generate(bits)
		done <- generated{kp, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case g := <-done:
			_ = bar.Finish()
			return g.kp, time.Since(start), g.err
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func addPasswordFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNamePassword, "", "key file password")
	cmd.Flags().String(optionNamePasswordFile, "", "path to a file that contains the key file password")
}

// flagPassword returns the password given by flag, or nil when neither
// password flag is set.
func flagPassword(cmd *cobra.Command) ([]byte, error) {
	if p, _ := cmd.Flags().GetString(optionNamePassword); p != "" {
		return []byte(p), nil
	}
	if file, _ := cmd.Flags().GetString(optionNamePasswordFile); file != "" {
		b, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		return []byte(strings.TrimSpace(string(b))), nil
	}
	return nil, nil
}

func (c *command) newPassword(cmd *cobra.Command) ([]byte, error) {
	p, err := flagPassword(cmd)
	if err != nil || p != nil {
		return p, err
	}
	return c.passwordReader.ReadNewPassword()
}

// loadKey reads the configured key file. Without needPrivate only the public
// half is read and no password is asked for.
func (c *command) loadKey(cmd *cobra.Command, needPrivate bool) (*rsakey.KeyPair, *keystore.File, error) {
	path := c.settings.KeyFile
	if !needPrivate {
		return keystore.LoadPublic(path)
	}

	password, err := flagPassword(cmd)
	if err != nil {
		return nil, nil, err
	}
	kp, f, err := keystore.Load(path, password)
	if errors.Is(err, keystore.ErrPasswordRequired) {
		password, err = c.passwordReader.ReadPassword("🔑 Key file password: ")
		if err != nil {
			return nil, nil, err
		}
		kp, f, err = keystore.Load(path, password)
	}
	if err != nil {
		return nil, nil, err
	}

	if c.settings.VerifyKeys {
		if err := rsakey.Validate(kp); err != nil {
			return nil, nil, err
		}
		c.logger.WithField("key_id", f.ID).Debug("keypair verified")
	}
	return kp, f, nil
}
