package recovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/tether/internal/errors"
)

// zshInit attaches the shell to its session on startup and disconnects it
// from a zshexit hook.
const zshInit = `# tether shell integration, generated by "tether shell-init zsh"
# Add to your ~/.zshrc:
#   eval "$(tether shell-init zsh)"

eval "$(command tether init --export-env 2>/dev/null)"

_tether_zshexit() {
  [[ -n "$TETHER_SESSION_ID" ]] || return
  command tether disconnect --session "$TETHER_SESSION_ID" >/dev/null 2>&1
}

autoload -Uz add-zsh-hook
add-zsh-hook zshexit _tether_zshexit
`

// bashInit does the same through an EXIT trap, chaining any trap already set.
const bashInit = `# tether shell integration, generated by "tether shell-init bash"
# Add to your ~/.bashrc:
#   eval "$(tether shell-init bash)"

eval "$(command tether init --export-env 2>/dev/null)"

_tether_exit() {
  [[ -n "$TETHER_SESSION_ID" ]] || return
  command tether disconnect --session "$TETHER_SESSION_ID" >/dev/null 2>&1
}

_tether_prev_exit_trap="$(trap -p EXIT | sed -e "s/^trap -- '\(.*\)' EXIT$/\1/")"
if [[ -n "$_tether_prev_exit_trap" ]]; then
  trap "_tether_exit; $_tether_prev_exit_trap" EXIT
else
  trap '_tether_exit' EXIT
fi
unset _tether_prev_exit_trap
`

// ShellInit returns the integration script for shell ("bash" or "zsh").
func ShellInit(shell string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(shell)) {
	case "zsh":
		return zshInit, nil
	case "bash":
		return bashInit, nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unsupported shell %q (want bash or zsh)", shell))
}

// ExportLines renders env as sorted POSIX export statements.
func ExportLines(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(env[k]))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
