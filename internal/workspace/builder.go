// Package workspace composes the isolated ML workspace into a CloudFormation
// template: one private network, one package mirror, one notebook domain and
// one environment per user.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/config"
)

const sagemakerService = "sagemaker.amazonaws.com"

// ErrNameCollision is returned when two users derive the same logical ID, or
// a user-derived ID shadows a shared resource.
var ErrNameCollision = errors.New("derived resource name collision")

// Builder turns a validated configuration into a resource graph.
type Builder struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// shared holds the handles per-user composition refers to.
type shared struct {
	network *network
	domain  string
	mirror  *mirror
}

// Build declares the whole graph. It returns either a complete template or
// an error, never a partial template.
func (b *Builder) Build() (*cfn.Template, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalid)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	tmpl := cfn.New(fmt.Sprintf("Isolated SageMaker workspace %s for %d user(s)", b.cfg.Deployment, len(b.cfg.UserNames)))
	tmpl.Metadata = map[string]any{
		"mlworkspace": map[string]any{
			"deployment": b.cfg.Deployment,
			"users":      append([]string(nil), b.cfg.UserNames...),
		},
	}

	net, err := b.addNetwork(tmpl)
	if err != nil {
		return nil, fmt.Errorf("declare network: %w", err)
	}
	domainID, err := b.addDomain(tmpl, net)
	if err != nil {
		return nil, fmt.Errorf("declare notebook domain: %w", err)
	}
	mir, err := b.addMirror(tmpl)
	if err != nil {
		return nil, fmt.Errorf("declare package mirror: %w", err)
	}
	b.logger.Debug("shared resources declared", "deployment", b.cfg.Deployment, "resources", len(tmpl.Resources))

	if err := checkUserNames(tmpl, b.cfg.UserNames); err != nil {
		return nil, err
	}

	sh := &shared{network: net, domain: domainID, mirror: mir}
	for _, user := range b.cfg.UserNames {
		if err := b.addUserEnvironment(tmpl, sh, user); err != nil {
			return nil, fmt.Errorf("declare environment for %s: %w", user, err)
		}
		b.logger.Debug("user environment declared", "user", user)
	}

	tmpl.AddOutput("VpcId", "Isolated VPC", cfn.Ref(net.vpc))
	tmpl.AddOutput("DomainId", "SageMaker domain ID", cfn.GetAtt(domainID, "DomainId"))
	tmpl.AddOutput("DomainUrl", "SageMaker Studio URL", cfn.GetAtt(domainID, "Url"))
	tmpl.AddOutput("PackageRepositoryArn", "Shared package mirror repository", cfn.GetAtt(mir.repository, "Arn"))

	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	b.logger.Info("workspace synthesized",
		"deployment", b.cfg.Deployment,
		"users", len(b.cfg.UserNames),
		"resources", len(tmpl.Resources),
	)
	return tmpl, nil
}

// UserResourceNames lists the logical IDs derived from a user identifier.
type UserResourceNames struct {
	Role         string
	Policy       string
	Bucket       string
	BucketPolicy string
	Profile      string
}

func NamesFor(user string) UserResourceNames {
	return UserResourceNames{
		Role:         "UserRole" + user,
		Policy:       user + "RolePolicy",
		Bucket:       user + "Bucket",
		BucketPolicy: user + "BucketPolicy",
		Profile:      user + "Profile",
	}
}

func (n UserResourceNames) all() []string {
	return []string{n.Role, n.Policy, n.Bucket, n.BucketPolicy, n.Profile}
}

// checkUserNames makes the implicit uniqueness of concatenated names
// explicit, before any per-user resource is declared.
func checkUserNames(tmpl *cfn.Template, users []string) error {
	if len(users) == 0 {
		return fmt.Errorf("%w: userNames is required and must not be empty", config.ErrInvalid)
	}
	owner := map[string]string{}
	for _, user := range users {
		for _, id := range NamesFor(user).all() {
			if _, ok := tmpl.Resource(id); ok {
				return fmt.Errorf("%w: %w: user %q derives %s, which is a shared resource", config.ErrInvalid, ErrNameCollision, user, id)
			}
			if prev, ok := owner[strings.ToLower(id)]; ok {
				return fmt.Errorf("%w: %w: users %q and %q both derive %s", config.ErrInvalid, ErrNameCollision, prev, user, id)
			}
			owner[strings.ToLower(id)] = user
		}
	}
	return nil
}
