package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	var (
		urlF     = flag.String("url", "http://localhost:8080", "URL to service host")
		tokenF   = flag.String("token", os.Getenv("VIGIL_TOKEN"), "Bearer token for authenticated endpoints")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
		dbgF     = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	c := newClient(*urlF, *tokenF, *timeoutF, *dbgF)
	if err := invoke(c, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the vigil API.

Usage:
    %s [-url URL][-token TOKEN][-timeout SECONDS][-debug] COMMAND [flags]

    -url URL: specify service URL (http://localhost:8080)
    -token TOKEN: bearer token for authenticated endpoints ($VIGIL_TOKEN)
    -timeout: maximum number of seconds to wait for response (30)
    -debug: log request and response bodies

Commands:
%s

Additional help:
    %s COMMAND --help

Example:
%s
`, os.Args[0], os.Args[0], usageCommands(), os.Args[0], usageExamples())
}

func usageCommands() string {
	commands := []string{
		"login: obtain a bearer token",
		"status: list cameras, stages and pipeline counters",
		"settings: show the runtime settings",
		"update-settings: change runtime settings (admin)",
		"set-face-reference: upload the reference face image (admin)",
		"clear-face-reference: remove the reference face (admin)",
		"snapshot: fetch a single processed frame",
		"healthz: probe service liveness",
	}
	result := ""
	for i, cmd := range commands {
		if i > 0 {
			result += "\n"
		}
		result += "    " + cmd
	}
	return result
}

func usageExamples() string {
	return fmt.Sprintf("    %s login -username admin -password admin123\n", os.Args[0]) +
		fmt.Sprintf("    %s -token $VIGIL_TOKEN status\n", os.Args[0]) +
		fmt.Sprintf("    %s snapshot -camera 0 -stage density -out frame.jpg", os.Args[0])
}

// invoke maps a command name and its flags onto one HTTP call.
func invoke(c *client, command string, args []string) error {
	switch command {
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		usernameF := fs.String("username", "admin", "Account username")
		passwordF := fs.String("password", "", "Account password")
		fs.Parse(args)
		return c.login(*usernameF, *passwordF)

	case "status":
		return c.getJSON("/api/status")

	case "settings":
		return c.getJSON("/api/settings")

	case "update-settings":
		fs := flag.NewFlagSet("update-settings", flag.ExitOnError)
		bodyF := fs.String("body", "", `Settings update in JSON form, e.g. {"density_alert_threshold": 5}`)
		fs.Parse(args)
		if *bodyF == "" {
			return fmt.Errorf("missing required flag -body")
		}
		if !json.Valid([]byte(*bodyF)) {
			return fmt.Errorf("-body is not valid JSON")
		}
		return c.postJSON("/api/settings", []byte(*bodyF))

	case "set-face-reference":
		fs := flag.NewFlagSet("set-face-reference", flag.ExitOnError)
		imageF := fs.String("image", "", "Path to the reference face image")
		nameF := fs.String("name", "", "Display name for the reference identity")
		fs.Parse(args)
		if *imageF == "" {
			return fmt.Errorf("missing required flag -image")
		}
		return c.setFaceReference(*imageF, *nameF)

	case "clear-face-reference":
		return c.deleteJSON("/api/faces/reference")

	case "snapshot":
		fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
		cameraF := fs.Int("camera", 0, "Camera id")
		stageF := fs.String("stage", "raw", "Stage name (raw, density, identity, threat, all)")
		outF := fs.String("out", "", "Write the frame to this file instead of stdout")
		fs.Parse(args)
		return c.snapshot(*cameraF, *stageF, *outF)

	case "healthz":
		return c.getJSON("/healthz")

	default:
		return fmt.Errorf("unknown command %q, run '%s --help' for usage", command, os.Args[0])
	}
}
