// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/promptlab/internal/config"
)

// HandleConfig handles the "config" command.
//
//	promptlab config                      show the effective config
//	promptlab config get server.port
//	promptlab config set server.port 9000
//	promptlab config keys
//	promptlab config path
//	promptlab config init [--force]
func HandleConfig(args Args) error {
	p := NewArgParser(args.Raw, "force")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return handleConfigShow(args)
	case "get":
		return handleConfigGet(args, p.Positional(1))
	case "set":
		return handleConfigSet(args, p.Positional(1), JoinPositionalArgs(p, 2))
	case "keys":
		return handleConfigKeys(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args, p.BoolFlag("force"))
	default:
		return NewValidationErrorWithExample("subcommand", sub, "unknown config subcommand", "promptlab config show")
	}
}

// configFile is the file config commands read and write.
func configFile(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// handleConfigShow prints the effective configuration, environment
// overrides included and API keys redacted.
func handleConfigShow(args Args) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}
	safe := cfg.Redacted()

	if args.JSON {
		return NewJSONResponse("config show", map[string]interface{}{
			"path":   path,
			"config": safe,
		}).Print()
	}

	if !args.Quiet {
		fmt.Println(DimStyle.Render("# " + path))
	}
	return toml.NewEncoder(os.Stdout).Encode(safe)
}

func handleConfigGet(args Args, key string) error {
	if key == "" {
		return ErrMissingArgument("key", "promptlab config get server.port")
	}
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	value, err := cfg.Redacted().Get(key)
	if err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "promptlab config keys")
	}

	if args.JSON {
		return NewJSONResponse("config get", map[string]interface{}{"key": key, "value": value}).Print()
	}
	fmt.Println(value)
	return nil
}

// handleConfigSet updates one key in the config file. The file is loaded
// without environment overrides so keys from the environment are never
// written to disk.
func handleConfigSet(args Args, key, value string) error {
	if key == "" || value == "" {
		return ErrMissingArgument("key and value", "promptlab config set server.port 9000")
	}
	path, err := configFile(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if cfg, err = config.LoadFromPath(path); err != nil {
			return err
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "promptlab config keys")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return NewCommandError("config", "save", path, err)
	}

	if args.JSON {
		return NewJSONResponse("config set", map[string]interface{}{"key": key, "value": value, "path": path}).Print()
	}
	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

func handleConfigKeys(args Args) error {
	keys := config.GetAllKeys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Print()
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func handleConfigPath(args Args) error {
	path, err := configFile(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", map[string]interface{}{"path": path, "exists": exists}).Print()
	}
	fmt.Println(path)
	if !exists && !args.Quiet {
		fmt.Fprintln(os.Stderr, DimStyle.Render("(not created yet; run: promptlab config init)"))
	}
	return nil
}

// handleConfigInit writes the default configuration. An existing file is
// kept unless --force is given.
func handleConfigInit(args Args, force bool) error {
	path, err := configFile(args)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil && !force {
		return NewCommandError("config", "init", "file exists (use --force to overwrite)", errors.New(path))
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return NewCommandError("config", "init", path, err)
	}

	if args.JSON {
		return NewJSONResponse("config init", map[string]interface{}{"path": path}).Print()
	}
	fmt.Printf("%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
	if !args.Quiet {
		fmt.Println(DimStyle.Render("Set API keys with GEMINI_API_KEY, GROQ_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY,"))
		fmt.Println(DimStyle.Render("or add api_key to a [[providers]] entry."))
	}
	return nil
}
