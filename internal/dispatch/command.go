package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/crafting-demo/claude-pr-review/pkg/types"
)

// maxSandboxNameLen is enforced by the sandbox tool.
const maxSandboxNameLen = 20

// SandboxName derives a unique sandbox name from the repository short name,
// the triggering item number, and the low four digits of the current epoch
// milliseconds. Collisions are accepted as a low-probability risk. The
// result matches cw-<repo8>-<item>-<ts4> truncated to 20 characters.
func SandboxName(repo string, itemNumber int, now time.Time) string {
	shortName := repo
	if _, after, ok := strings.Cut(repo, "/"); ok {
		shortName = after
	}
	if len(shortName) > 8 {
		shortName = shortName[:8]
	}

	millis := fmt.Sprintf("%04d", now.UnixMilli())
	stamp := millis[len(millis)-4:]

	name := fmt.Sprintf("cw-%s-%d-%s", shortName, itemNumber, stamp)
	if len(name) > maxSandboxNameLen {
		name = name[:maxSandboxNameLen]
	}
	return name
}

// buildCreateCommand renders the sandbox-creation command. Values are
// substituted textually into a fixed template, so every substituted value
// is checked first: anything that could escape its argument boundary is
// rejected rather than quoted.
func (c *Controller) buildCreateCommand(req *types.DispatchRequest, sandboxName string) (string, error) {
	templateArg := fmt.Sprintf("--from def:%s", c.cfg.SandboxDefPath)
	if c.cfg.SandboxTemplateName != "" {
		templateArg = fmt.Sprintf("-t %s", c.cfg.SandboxTemplateName)
	}

	prNumber := ""
	if req.PRNumber != 0 {
		prNumber = fmt.Sprintf("%d", req.PRNumber)
	}

	// SHOULD_DELETE=false keeps the sandbox alive for inspection in debug
	// mode.
	shouldDelete := "true"
	if c.opts.Debug {
		shouldDelete = "false"
	}

	values := []struct {
		name  string
		value string
	}{
		{"sandbox name", sandboxName},
		{"template name", c.cfg.SandboxTemplateName},
		{"definition path", c.cfg.SandboxDefPath},
		{"pool name", c.cfg.SandboxPoolName},
		{"owner", req.Owner},
		{"repo", req.Repo},
		{"branch", req.PRHeadRef},
		{"token", c.cfg.Token},
		{"kind", string(req.Kind)},
		{"pr url", req.PRURL},
		{"secret ref", c.cfg.AnthropicSecretRef},
	}
	for _, v := range values {
		if err := checkCommandValue(v.name, v.value); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "cs sandbox create %s %s", sandboxName, templateArg)
	if c.cfg.UseSandboxPool {
		fmt.Fprintf(&sb, " --use-pool %s", c.cfg.SandboxPoolName)
	}
	fmt.Fprintf(&sb, " -D 'claude/env[GITHUB_REPO]=%s/%s'", req.Owner, req.Repo)
	fmt.Fprintf(&sb, " -D 'claude/env[GITHUB_BRANCH]=%s'", req.PRHeadRef)
	fmt.Fprintf(&sb, " -D 'claude/env[GITHUB_TOKEN]=%s'", c.cfg.Token)
	fmt.Fprintf(&sb, " -D 'claude/env[ACTION_TYPE]=%s'", req.Kind)
	fmt.Fprintf(&sb, " -D 'claude/env[PR_NUMBER]=%s'", prNumber)
	fmt.Fprintf(&sb, " -D 'claude/env[PR_URL]=%s'", req.PRURL)
	fmt.Fprintf(&sb, " -D 'claude/env[SHOULD_DELETE]=%s'", shouldDelete)
	fmt.Fprintf(&sb, " -D 'claude/env[ANTHROPIC_API_KEY]=${secret:%s}'", c.cfg.AnthropicSecretRef)
	return sb.String(), nil
}

// checkCommandValue rejects values that could break out of the command
// template's argument boundaries. Inputs come from repository metadata and
// operator config, not arbitrary user text, but a branch ref or template
// name containing a quote must never reach the shell.
func checkCommandValue(name, value string) error {
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%s contains a control character", name)
		}
		switch r {
		case '\'', '"', '`', '$', '\\', ' ', ';', '&', '|':
			return fmt.Errorf("%s contains unsafe character %q", name, r)
		}
	}
	return nil
}
