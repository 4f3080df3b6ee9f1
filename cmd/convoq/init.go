package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/pkg/app"
)

// setup holds the answers of the init wizard.
type setup struct {
	AssistantID string
	APIKey      string
	UseKeyring  bool

	ArangoEndpoint string
	ArangoDatabase string
	ArangoUser     string
	ArangoPassword string

	Persist     bool
	GatewayBind string
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = app.ConfigCandidates()[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			s := setup{
				ArangoEndpoint: "http://localhost:8529",
				ArangoDatabase: "_system",
				ArangoUser:     "root",
				Persist:        true,
				GatewayBind:    "127.0.0.1:8080",
			}
			if err := runWizard(&s); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
			if s.UseKeyring {
				if err := s.storeSecrets(); err != nil {
					return err
				}
			}

			raw, err := renderConfig(s)
			if err != nil {
				return err
			}
			if _, err := config.Parse(raw); err != nil {
				return fmt.Errorf("generated configuration is invalid: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func runWizard(s *setup) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant ID").
				Description("The OpenAI assistant that drives conversations (asst_...).").
				Value(&s.AssistantID).
				Validate(required("assistant id")),
			huh.NewInput().
				Title("OpenAI API key").
				EchoMode(huh.EchoModePassword).
				Value(&s.APIKey).
				Validate(required("API key")),
			huh.NewConfirm().
				Title("Store secrets in the OS keyring?").
				Value(&s.UseKeyring),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("ArangoDB endpoint").
				Value(&s.ArangoEndpoint).
				Validate(validURL),
			huh.NewInput().
				Title("Database").
				Value(&s.ArangoDatabase),
			huh.NewInput().
				Title("Username").
				Value(&s.ArangoUser),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&s.ArangoPassword),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Persist conversations in SQLite?").
				Value(&s.Persist),
			huh.NewInput().
				Title("HTTP gateway address").
				Description("Leave empty to run without the HTTP API.").
				Value(&s.GatewayBind),
		),
	)
	return form.Run()
}

func required(name string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("expected an http(s) URL")
	}
	return nil
}

// storeSecrets moves the secrets to the keyring and replaces them with
// references.
func (s *setup) storeSecrets() error {
	ref, err := config.StoreSecret("openai_api_key", s.APIKey)
	if err != nil {
		return err
	}
	s.APIKey = ref
	if s.ArangoPassword != "" {
		ref, err := config.StoreSecret("arangodb_password", s.ArangoPassword)
		if err != nil {
			return err
		}
		s.ArangoPassword = ref
	}
	return nil
}

type fileConfig struct {
	Version      string         `yaml:"version"`
	Logging      map[string]any `yaml:"logging"`
	Conversation map[string]any `yaml:"conversation"`
	Modules      map[string]any `yaml:"modules"`
}

func renderConfig(s setup) ([]byte, error) {
	arango := map[string]any{
		"endpoint": s.ArangoEndpoint,
		"database": s.ArangoDatabase,
	}
	if s.ArangoUser != "" {
		arango["username"] = s.ArangoUser
	}
	if s.ArangoPassword != "" {
		arango["password"] = s.ArangoPassword
	}

	modules := map[string]any{
		"assistant.openai": map[string]any{"api_key": s.APIKey},
		"tool.arangodb":    arango,
	}
	if s.Persist {
		modules["store.sqlite"] = map[string]any{}
	}
	if s.GatewayBind != "" {
		modules["gateway"] = map[string]any{"bind": s.GatewayBind}
	}

	out, err := yaml.Marshal(fileConfig{
		Version: "1",
		Logging: map[string]any{"level": config.DefaultLogLevel, "format": config.DefaultLogFormat},
		Conversation: map[string]any{
			"assistant_id": s.AssistantID,
			"auto_recover": true,
			"push_tools":   true,
			"query_tool":   runner.DefaultQueryTool,
			"parser_tools": []string{runner.DefaultParserTool},
		},
		Modules: modules,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	return out, nil
}
