package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"k8s.io/klog/klogr"
)

// Client posts deployment outcomes to a GitHub repository as Deployments
// with an attached DeploymentStatus, which is what CI dashboards and chat
// integrations subscribe to.
type Client struct {
	Logger logr.Logger

	github *github.Client

	owner string
	repo  string
	ref   string
}

type Option interface {
	SetOption(*Client) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(c *Client) error {
	c.Logger = o.l
	return nil
}

// Ref is the git ref the deployment is created against. Defaults to main.
func Ref(ref string) Option {
	return &refOption{r: ref}
}

type refOption struct {
	r string
}

func (o *refOption) SetOption(c *Client) error {
	c.ref = o.r
	return nil
}

// GitHub swaps the API client, for tests pointing at a local server.
func GitHub(gc *github.Client) Option {
	return &githubOption{g: gc}
}

type githubOption struct {
	g *github.Client
}

func (o *githubOption) SetOption(c *Client) error {
	c.github = o.g
	return nil
}

// NewClient builds a notifier for repo, which is either owner/repo or a
// GitHub clone URL. The token is passed in by the caller, usually from
// GITHUB_TOKEN.
func NewClient(ctx context.Context, repo, token string, opts ...Option) (*Client, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	c := &Client{
		owner: owner,
		repo:  name,
		ref:   "main",
	}

	for _, o := range opts {
		if err := o.SetOption(c); err != nil {
			return nil, err
		}
	}

	if c.Logger == nil {
		c.Logger = klogr.New()
	}

	if c.github == nil {
		if token == "" {
			return nil, fmt.Errorf("notifying %s/%s requires a token", owner, name)
		}

		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		c.github = github.NewClient(tc)
	}

	return c, nil
}

// splitRepo accepts owner/repo, https clone URLs, and scp-like git URLs.
func splitRepo(repo string) (string, string, error) {
	s := strings.TrimSuffix(repo, ".git")
	s = strings.TrimPrefix(s, "git@github.com:")
	for _, prefix := range []string{"ssh://git@", "https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "github.com/")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("parsing repository %q: want owner/repo", repo)
	}

	return parts[0], parts[1], nil
}

// Deployed creates a Deployment for the environment and marks it success or
// failure in one go.
func (c *Client) Deployed(ctx context.Context, environment string, succeeded bool, description string) error {
	req := &github.DeploymentRequest{
		Ref:              github.String(c.ref),
		Environment:      github.String(environment),
		AutoMerge:        github.Bool(false),
		RequiredContexts: &[]string{},
		Description:      github.String(description),
	}

	dep, _, err := c.github.Repositories.CreateDeployment(ctx, c.owner, c.repo, req)
	if err != nil {
		return fmt.Errorf("creating deployment: %w", err)
	}

	state := "success"
	if !succeeded {
		state = "failure"
	}

	statusReq := &github.DeploymentStatusRequest{
		State:       github.String(state),
		Description: github.String(description),
	}

	if _, _, err := c.github.Repositories.CreateDeploymentStatus(ctx, c.owner, c.repo, dep.GetID(), statusReq); err != nil {
		return fmt.Errorf("creating deployment status: %w", err)
	}

	c.Logger.V(1).Info("notified deployment", "repository", c.owner+"/"+c.repo, "environment", environment, "state", state)

	return nil
}
