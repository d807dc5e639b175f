package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/clip/asset"
	"github.com/normanking/cortexmotion/internal/config"
	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the animation presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDURATION\tLOOP\tDESCRIPTION")
			for _, p := range preset.All() {
				fmt.Fprintf(w, "%s\t%.1fs\t%t\t%s\n", p.Name, p.Duration, p.Loop, p.Description)
			}
			return w.Flush()
		},
	}
}

func newClipCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "clip [preset]",
		Short: "Show where a preset's clip comes from and what it animates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := preset.Lookup(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			r := rig.NewHumanoid()
			if cfg.Avatar.Rig != "" {
				if r, err = rig.FromGLTF(cfg.Avatar.Rig); err != nil {
					return fmt.Errorf("load rig: %w", err)
				}
			}
			strategies, err := clip.ParseStrategies(cfg.Clips.Strategies)
			if err != nil {
				return err
			}

			var assets clip.AssetSource
			if cfg.Clips.Manifest != "" {
				m, err := asset.LoadManifest(cfg.Clips.Manifest)
				if err != nil {
					return err
				}
				loader := asset.NewLoader(m, r, nil, zerolog.New(os.Stderr))
				defer loader.Close()
				assets = loader
			}

			resolver := clip.NewResolver(r, assets, strategies)
			plan, err := resolver.Plan(p)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Clips.HTTPTimeout+5*time.Second)
			defer cancel()
			c, err := resolver.Load(ctx, plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "preset:   %s\n", p.Name)
			fmt.Fprintf(out, "source:   %s (%s)\n", plan.Strategy, plan.Name)
			fmt.Fprintf(out, "duration: %.2fs loop=%t\n", c.Duration, c.Loop)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tKEYS")
			for _, t := range c.Tracks {
				fmt.Fprintf(w, "%s\t%d\n", t.Channel, len(t.Times))
			}
			return w.Flush()
		},
	}
}
