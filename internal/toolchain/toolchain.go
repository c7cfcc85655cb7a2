// Package toolchain wraps the Archipelago toolchain living in a repository
// clone: git housekeeping, virtualenv setup and seed generation. It holds no
// state of its own; every operation shells out and reports the result.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Runner executes toolchain operations against a repository clone.
type Runner interface {
	// Update fast-forwards the clone to its upstream, then re-initializes.
	Update(ctx context.Context) error
	// Init creates the venv when missing and runs the module installer.
	Init(ctx context.Context) error
	// Generate runs seed generation and delivers the output zip.
	Generate(ctx context.Context, opts GenerateOptions) error
}

// GenerateOptions configures one Generate run. Exactly one of OutputZip and
// OutputDir must be set.
type GenerateOptions struct {
	OutputZip   string   // copy the generated zip to this path
	OutputDir   string   // extract the generated zip into this directory
	Seed        int64    // forwarded to the generator when >= 0
	PlayerYAMLs []string // player definition files, copied in as Player<N>.yaml
}

func (o GenerateOptions) validate() error {
	switch {
	case o.OutputZip == "" && o.OutputDir == "":
		return fmt.Errorf("generate: one of output zip or output directory is required")
	case o.OutputZip != "" && o.OutputDir != "":
		return fmt.Errorf("generate: output zip and output directory are mutually exclusive")
	}
	if len(o.PlayerYAMLs) == 0 {
		return fmt.Errorf("generate: at least one player yaml is required")
	}
	for _, path := range o.PlayerYAMLs {
		if !strings.HasSuffix(path, ".yaml") {
			return fmt.Errorf("generate: this doesn't look like a player yaml file: %s", path)
		}
	}
	return nil
}

// ShellRunner implements Runner by shelling out to git and the repository's
// virtualenv python.
type ShellRunner struct {
	repoDir string
	logger  *slog.Logger

	// runCommand is swapped out in tests to record commands instead of
	// executing them.
	runCommand func(cmd *exec.Cmd) ([]byte, error)
}

// NewShellRunner creates a runner for the given Archipelago clone.
func NewShellRunner(repoDir string, logger *slog.Logger) *ShellRunner {
	return &ShellRunner{
		repoDir: repoDir,
		logger:  logger,
		runCommand: func(cmd *exec.Cmd) ([]byte, error) {
			return cmd.CombinedOutput()
		},
	}
}

// Update refuses to touch a dirty checkout, fast-forwards to the upstream
// branch, then runs Init.
func (r *ShellRunner) Update(ctx context.Context) error {
	status, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) != "" {
		return fmt.Errorf("git status not clean: %s", r.repoDir)
	}

	if _, err := r.git(ctx, "fetch", "--prune"); err != nil {
		return err
	}
	// Show where the clone stands relative to upstream before merging.
	status, err = r.git(ctx, "status")
	if err != nil {
		return err
	}
	r.logger.Info("repository status", "status", strings.TrimSpace(status))
	if _, err := r.git(ctx, "merge", "--ff", "@{upstream}"); err != nil {
		return err
	}

	return r.Init(ctx)
}

// Init creates the repository virtualenv when missing, then runs the module
// installer followed by NetUtils (which does one-time setup work on import).
func (r *ShellRunner) Init(ctx context.Context) error {
	if _, err := os.Stat(r.venvPython()); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat venv python: %w", err)
		}
		r.logger.Info("creating virtualenv", "dir", r.venvDir())
		cmd := exec.CommandContext(ctx, "python3", "-m", "venv", "--clear", r.venvDir())
		if out, err := r.runCommand(cmd); err != nil {
			return fmt.Errorf("failed to create venv: %w\n%s", err, out)
		}
	}

	// The installer asks (more than once) to confirm doing its job, and
	// Enter means yes.
	confirmations := bytes.Repeat([]byte("\n"), 100)
	if err := r.script(ctx, "ModuleUpdate.py", nil, confirmations, false); err != nil {
		return err
	}
	return r.script(ctx, "NetUtils.py", nil, nil, true)
}

// Generate stages player yamls into a temp Players dir, runs the generator
// there, and delivers the single output zip per the options.
func (r *ShellRunner) Generate(ctx context.Context, opts GenerateOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.OutputDir != "" {
		if err := ensureEmptyDir(opts.OutputDir); err != nil {
			return err
		}
	}

	tmpDir, err := os.MkdirTemp("", "aptool-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	playersDir := filepath.Join(tmpDir, "Players")
	if err := os.Mkdir(playersDir, 0755); err != nil {
		return fmt.Errorf("failed to create players dir: %w", err)
	}
	for i, path := range opts.PlayerYAMLs {
		dest := filepath.Join(playersDir, fmt.Sprintf("Player%d.yaml", i+1))
		if err := copyFile(path, dest); err != nil {
			return err
		}
	}

	outputDir := filepath.Join(tmpDir, "output")
	args := []string{
		"--player_files_path", playersDir,
		"--outputpath", outputDir,
	}
	if opts.Seed >= 0 {
		args = append(args, "--seed", strconv.FormatInt(opts.Seed, 10))
	}
	if err := r.script(ctx, "Generate.py", args, nil, true); err != nil {
		return err
	}

	zipPath, err := singleZip(outputDir)
	if err != nil {
		return err
	}

	if opts.OutputDir != "" {
		return extractZip(zipPath, opts.OutputDir)
	}
	return copyFile(zipPath, opts.OutputZip)
}

// git runs a git subcommand in the repository and returns its combined output.
func (r *ShellRunner) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoDir
	out, err := r.runCommand(cmd)
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w\n%s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// script runs a repository python script through the venv interpreter.
// skipRequirements suppresses the toolchain's auto-install; only the
// installer itself runs without it.
func (r *ShellRunner) script(ctx context.Context, name string, args []string, stdin []byte, skipRequirements bool) error {
	cmdArgs := append([]string{filepath.Join(r.repoDir, name)}, args...)
	cmd := exec.CommandContext(ctx, r.venvPython(), cmdArgs...)
	cmd.Dir = r.repoDir
	// The toolchain imports pkg_resources, which warns on modern pythons.
	// Not our problem, so suppress it.
	cmd.Env = append(os.Environ(), "PYTHONWARNINGS=ignore")
	if skipRequirements {
		cmd.Env = append(cmd.Env, "SKIP_REQUIREMENTS_UPDATE=1")
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	r.logger.Info("running", "script", name)
	if out, err := r.runCommand(cmd); err != nil {
		return fmt.Errorf("%s failed: %w\n%s", name, err, out)
	}
	return nil
}

func (r *ShellRunner) venvDir() string {
	return filepath.Join(r.repoDir, ".venv")
}

func (r *ShellRunner) venvPython() string {
	return filepath.Join(r.venvDir(), "bin", "python")
}

// ensureEmptyDir creates dir if missing and fails if it exists non-empty.
func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.Mkdir(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output dir: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to read output dir: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("output directory is not empty: %s", dir)
	}
	return nil
}

// singleZip returns the one .zip file the generator is expected to leave in
// dir.
func singleZip(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read generator output: %w", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".zip") {
		return "", fmt.Errorf("expected a single .zip in the generator output dir %s", dir)
	}
	return filepath.Join(dir, entries[0].Name()), nil
}
