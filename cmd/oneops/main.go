package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/service/cloud"
	"github.com/oneops/oneops/internal/service/deploy"
	apiclient "github.com/oneops/oneops/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "deploy":
		err = commandDeploy(args)
	case "projects":
		err = commandProjects(args)
	case "events":
		err = commandEvents(args)
	case "verify":
		err = commandVerify(args)
	case "dispatch":
		err = commandDispatch(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Bearer token (prompted when omitted)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		var err error
		if secret, err = readSecret("Token: "); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := client.ListProjects(ctx, secret); err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	repo := fs.String("repo", "", "Repository URL")
	repoType := fs.String("type", "", "Source host (github|gitlab); inferred from the URL when empty")
	repoToken := fs.String("repo-token", "", "Access token for private repositories")
	region := fs.String("region", "", "Cloud region (server default when empty)")
	instance := fs.String("instance", "", "Instance type used for sizing (default t3.micro)")
	fs.Parse(args)

	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}
	client, cfg, err := authedClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Printf("deploying %s ...\n", *repo)
	resp, err := client.Deploy(ctx, cfg.AccessToken, deploy.Request{
		Repo:         *repo,
		RepoType:     *repoType,
		RepoToken:    *repoToken,
		Region:       *region,
		InstanceType: *instance,
	})
	for _, w := range resp.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if err != nil {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return err
	}
	fmt.Printf("image: %s\n", resp.Image)
	fmt.Printf("url:   %s\n", resp.DeploymentURL)
	if d := resp.ServiceDetails; d != nil {
		fmt.Printf("service: %s/%s\n", d.ClusterName, d.ServiceName)
		if d.Healthy != nil && !*d.Healthy {
			fmt.Println("targets are not healthy yet; the service may still be starting")
		}
	}
	return nil
}

func commandProjects(args []string) error {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Parse(args)

	client, cfg, err := authedClient()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	projects, err := client.ListProjects(ctx, cfg.AccessToken)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(projects)
	}
	if len(projects) == 0 {
		fmt.Println("no projects deployed")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", p.Name, p.Status, p.Region, p.DeploymentURL, p.LastDeployedAt.Format(time.RFC3339))
	}
	return nil
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum events to list")
	offset := fs.Int("offset", 0, "Events to skip")
	follow := fs.Bool("follow", false, "Stream new events over a websocket")
	fs.Parse(args)

	client, cfg, err := authedClient()
	if err != nil {
		return err
	}
	defer client.Close()
	if *follow {
		return followEvents(cfg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	events, err := client.ListEvents(ctx, cfg.AccessToken, *limit, *offset)
	if err != nil {
		return err
	}
	for _, e := range events {
		printEvent(e)
	}
	return nil
}

func followEvents(cfg cliConfig) error {
	u, err := url.Parse(strings.TrimRight(cfg.APIBaseURL, "/") + "/ws/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", cfg.AccessToken)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Fprintln(os.Stderr, "waiting for events (ctrl-c to stop)")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var e domain.DeploymentEvent
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		printEvent(e)
	}
}

func printEvent(e domain.DeploymentEvent) {
	line := fmt.Sprintf("%s  %-22s %-11s %s", e.CreatedAt.Local().Format(time.DateTime), e.Event, e.Status, e.RepoURL)
	if e.Stage != "" {
		line += "  stage=" + e.Stage
	}
	if e.ErrorMessage != "" {
		line += "  error=" + e.ErrorMessage
	}
	fmt.Println(line)
}

func commandVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	accessKey := fs.String("access-key", "", "Access key id (server credentials when empty)")
	sessionToken := fs.String("session-token", "", "Session token for temporary keys")
	region := fs.String("region", "", "Region")
	fs.Parse(args)

	req := cloud.VerifyRequest{AccessKeyID: *accessKey, SessionToken: *sessionToken, Region: *region}
	if strings.TrimSpace(*accessKey) != "" {
		secret, err := readSecret("Secret access key: ")
		if err != nil {
			return err
		}
		req.SecretAccessKey = secret
	}

	client, cfg, err := authedClient()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := client.VerifyCloud(ctx, cfg.AccessToken, req)
	if err != nil {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return err
	}
	fmt.Printf("account: %s\narn:     %s\n", resp.Account, resp.Arn)
	return nil
}

func commandDispatch(args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	repo := fs.String("repo", "", "Repository as owner/name")
	workflow := fs.String("workflow", "", "Workflow file name or id")
	fs.Parse(args)

	if strings.TrimSpace(*repo) == "" || strings.TrimSpace(*workflow) == "" {
		return errors.New("--repo and --workflow are required")
	}
	client, cfg, err := authedClient()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Dispatch(ctx, cfg.AccessToken, *repo, *workflow); err != nil {
		return err
	}
	fmt.Println("workflow dispatched")
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	fs.Parse(args)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := client.Health(ctx)
	if status != nil {
		_ = printJSON(status)
	}
	return err
}

func authedClient() (*apiclient.Client, cliConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cliConfig{}, err
	}
	if cfg.AccessToken == "" {
		return nil, cliConfig{}, errors.New("not logged in; run `oneops login` first")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, cliConfig{}, err
	}
	return client, cfg, nil
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: envOr("ONEOPS_API", apiclient.DefaultBaseURL)}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = envOr("ONEOPS_API", apiclient.DefaultBaseURL)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "oneops", "config.json"), nil
}

func printUsage() {
	fmt.Printf("oneops CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	oneops login [--token <jwt>] [--api http://localhost:4000]
	oneops deploy --repo <url> [--type github|gitlab] [--repo-token t] [--region r] [--instance t3.micro]
	oneops projects [--json]
	oneops events [--limit N] [--offset N] [--follow]
	oneops verify [--access-key AKIA...] [--session-token t] [--region r]
	oneops dispatch --repo owner/name --workflow deploy.yml
	oneops health
	oneops version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
