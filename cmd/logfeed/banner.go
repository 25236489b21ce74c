package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func printStartupBanner(cfg appConfig, runID string, replay bool) {
	fmt.Println(renderStartupBanner(cfg, runID, replay))
}

func renderStartupBanner(cfg appConfig, runID string, replay bool) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, "    "+cyan.Bold(true).Render("logfeed")+" "+dim.Render("v"+version))
	lines = append(lines, "    "+dim.Render("run "+runID))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Source"))
	lines = append(lines, "")
	if replay {
		lines = append(lines, fmt.Sprintf("    %s  Dead letters   %s", check, cyan.Render(shortenPath(cfg.DeadLetterPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Object         %s", check, cyan.Render(cfg.sourceURL())))
		lines = append(lines, fmt.Sprintf("    %s  Endpoint       %s", check, dim.Render(cfg.S3Endpoint)))
		mode := "batch"
		if cfg.Stream {
			mode = "stream"
		}
		lines = append(lines, fmt.Sprintf("    %s  Mode           %s", check, dim.Render(mode+", malformed lines: "+string(cfg.policy))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Broker"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Brokers        %s", check, cyan.Render(strings.Join(cfg.Brokers, ","))))
	lines = append(lines, fmt.Sprintf("    %s  Topic          %s", check, cyan.Render(cfg.Topic)))
	lines = append(lines, fmt.Sprintf("    %s  Timeout        %s", check, dim.Render(cfg.PublishTimeout.String())))
	lines = append(lines, fmt.Sprintf("    %s  Throttle       %s", check, dim.Render(cfg.ThrottleInterval.String())))
	lines = append(lines, fmt.Sprintf("    %s  Concurrency    %s", check, dim.Render(fmt.Sprint(cfg.Concurrency))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")
	if cfg.DeadLetterEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Dead letters   %s", check, dim.Render(shortenPath(cfg.DeadLetterPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Dead letters   %s", dot, dim.Render("disabled")))
	}
	if cfg.StatusAddr != "" {
		lines = append(lines, fmt.Sprintf("    %s  Status API     %s", check, cyan.Render(cfg.StatusAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Status API     %s", dot, dim.Render("disabled")))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
