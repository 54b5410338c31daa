package main

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/karakuri"
	"github.com/m-mizutani/karakuri/planning/claude"
	"github.com/m-mizutani/karakuri/planning/gemini"
	"github.com/m-mizutani/karakuri/planning/openai"
	"github.com/urfave/cli/v3"
)

func providerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Value:   "claude",
			Sources: cli.EnvVars("KARAKURI_PROVIDER"),
			Usage:   "Planning provider (claude, openai or gemini)",
		},
		&cli.StringFlag{
			Name:    "model",
			Sources: cli.EnvVars("KARAKURI_MODEL"),
			Usage:   "Model name override for the provider",
		},
		&cli.StringFlag{
			Name:    "anthropic-api-key",
			Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
			Usage:   "API key for the claude provider",
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Sources: cli.EnvVars("OPENAI_API_KEY"),
			Usage:   "API key for the openai provider",
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Sources: cli.EnvVars("OPENAI_BASE_URL"),
			Usage:   "API endpoint override for OpenAI compatible services",
		},
		&cli.StringFlag{
			Name:    "gemini-project-id",
			Sources: cli.EnvVars("GEMINI_PROJECT_ID"),
			Usage:   "Google Cloud project ID for the gemini provider",
		},
		&cli.StringFlag{
			Name:    "gemini-location",
			Value:   "us-central1",
			Sources: cli.EnvVars("GEMINI_LOCATION"),
			Usage:   "Google Cloud location for the gemini provider",
		},
	}
}

// newPlanningService builds the planning client selected by the flags. The
// returned closer releases provider resources; most providers need none.
func newPlanningService(ctx context.Context, cmd *cli.Command) (karakuri.PlanningService, func() error, error) {
	noClose := func() error { return nil }
	model := cmd.String("model")

	switch provider := cmd.String("provider"); provider {
	case "claude":
		var options []claude.Option
		if model != "" {
			options = append(options, claude.WithModel(model))
		}
		svc, err := claude.New(ctx, cmd.String("anthropic-api-key"), options...)
		if err != nil {
			return nil, nil, err
		}
		return svc, noClose, nil

	case "openai":
		var options []openai.Option
		if model != "" {
			options = append(options, openai.WithModel(model))
		}
		if baseURL := cmd.String("openai-base-url"); baseURL != "" {
			options = append(options, openai.WithBaseURL(baseURL))
		}
		svc, err := openai.New(ctx, cmd.String("openai-api-key"), options...)
		if err != nil {
			return nil, nil, err
		}
		return svc, noClose, nil

	case "gemini":
		var options []gemini.Option
		if model != "" {
			options = append(options, gemini.WithModel(model))
		}
		svc, err := gemini.New(ctx, cmd.String("gemini-project-id"), cmd.String("gemini-location"), options...)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil

	default:
		return nil, nil, goerr.New("unknown provider", goerr.V("provider", provider))
	}
}
