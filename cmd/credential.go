package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/porthorian/hashpolicy"
	"github.com/porthorian/hashpolicy/pkg/hashprovider"
	"github.com/porthorian/hashpolicy/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readTerminalPassword is swapped in tests.
var readTerminalPassword = term.ReadPassword

func init() {
	rootCmd.AddCommand(newHashCommand(), newVerifyCommand(), newPolicyCheckCommand())
}

func newHashCommand() *cobra.Command {
	var algorithm string
	var cost int

	hashCmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password read from the terminal or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := lookupProvider(algorithm)
			if err != nil {
				return err
			}

			password, err := readPassword(cmd, "Password: ")
			if err != nil {
				return err
			}

			credential, err := provider.CreateCredential(password, cost)
			if err != nil {
				return err
			}
			if cost != 0 && credential.Cost != cost {
				cmd.PrintErrf("warning: cost %d is outside the %s bounds, used default %d\n", cost, provider.ID(), credential.Cost)
			}

			cmd.Println(credential.Secret)
			return nil
		},
	}

	hashCmd.Flags().StringVar(&algorithm, "algorithm", "bcrypt", "Provider id to hash with.")
	hashCmd.Flags().IntVar(&cost, "cost", 0, "Requested cost; 0 or an out-of-range value uses the provider default.")
	return hashCmd
}

func newVerifyCommand() *cobra.Command {
	var algorithm string

	verifyCmd := &cobra.Command{
		Use:   "verify <secret>",
		Short: "Check a password from the terminal or stdin against an encoded secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := lookupProvider(algorithm)
			if err != nil {
				return err
			}

			password, err := readPassword(cmd, "Password: ")
			if err != nil {
				return err
			}

			ok, err := provider.Verify(password, storage.PasswordCredential{
				Algorithm: provider.ID(),
				Secret:    strings.TrimSpace(args[0]),
			})
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("password does not match")
			}

			cmd.Println("match")
			return nil
		},
	}

	verifyCmd.Flags().StringVar(&algorithm, "algorithm", "bcrypt", "Provider id the secret was hashed with.")
	return verifyCmd
}

func newPolicyCheckCommand() *cobra.Command {
	var realm string

	policyCmd := &cobra.Command{
		Use:   "policy-check <subject>",
		Short: "Report whether a stored credential satisfies the realm policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}

			fileConfig, err := loadFileConfig()
			if err != nil {
				return err
			}
			config, err := fileConfig.Config()
			if err != nil {
				return err
			}
			config.Logger = logger

			client, err := hashpolicy.New(config)
			if err != nil {
				return err
			}
			defer client.Close()

			compliant, err := client.CheckPolicy(cmd.Context(), args[0], realm)
			if err != nil {
				return err
			}

			if compliant {
				cmd.Println("compliant")
			} else {
				cmd.Println("non-compliant")
			}
			return nil
		},
	}

	policyCmd.Flags().StringVar(&realm, "realm", "", "Realm whose policy applies; empty uses the default policy.")
	return policyCmd
}

func lookupProvider(id string) (hashprovider.HashProvider, error) {
	fileConfig, err := loadFileConfig()
	if err != nil {
		return nil, err
	}
	config, err := fileConfig.Config()
	if err != nil {
		return nil, err
	}

	registry, err := hashprovider.NewRegistry(config.Providers...)
	if err != nil {
		return nil, err
	}

	provider, ok := registry.Provider(strings.TrimSpace(id))
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q: expected one of %s", id, strings.Join(registry.IDs(), ", "))
	}
	return provider, nil
}

// readPassword reads without echo from a terminal, otherwise one line from
// the command's input. Only the line terminator is stripped.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if file, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		cmd.PrintErr(prompt)
		password, err := readTerminalPassword(int(file.Fd()))
		cmd.PrintErrln()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
