package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/auth"
	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
)

func newWalkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Administer the simulated walk on the api",
	}
	cmd.AddCommand(newWalkResetCmd(a))
	return cmd
}

func newWalkResetCmd(a *app) *cobra.Command {
	var origin geo.Coordinate

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start a new walk at the given origin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !origin.Valid() {
				return fmt.Errorf("origin %s out of range", origin)
			}
			stream, err := a.resetWalk(origin)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "walk restarted at %s, stream %s\n", origin, stream)
			return nil
		},
	}
	cmd.Flags().Float64Var(&origin.Latitude, "lat", 51.169392, "origin latitude")
	cmd.Flags().Float64Var(&origin.Longitude, "lon", 71.449074, "origin longitude")
	return cmd
}

func (a *app) resetWalk(origin geo.Coordinate) (string, error) {
	token, err := auth.IssueToken(a.cfg.AdminSecret, "runner", auth.RoleAdmin, time.Minute)
	if err != nil {
		return "", err
	}

	agent := fiber.Put(strings.TrimRight(a.cfg.APIURL, "/") + "/admin/walk/origin")
	agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	agent.Timeout(10 * time.Second)
	agent.JSON(origin)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("reset walk: %v", errs[0])
	}
	if code != fiber.StatusOK {
		return "", fmt.Errorf("reset walk: status %d: %s", code, strings.TrimSpace(string(body)))
	}

	var resp struct {
		Stream string `json:"stream"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("reset walk: %w", err)
	}
	return resp.Stream, nil
}
