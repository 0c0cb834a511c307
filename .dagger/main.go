// A Dagger build pipeline for Toolgate
//
// This module provides a CI/CD pipeline for building, testing, and
// publishing the toolgate gateway. It supports multi-platform builds,
// Docker containerization, and automated testing.

package main

import (
	"context"
	"dagger/toolgate/internal/dagger"
	"fmt"
	"os"
	"time"
)

type Toolgate struct{}

const (
	FromImageGo = "chainguard/wolfi-base:latest"
)

// Build configuration
type BuildConfig struct {
	Version        string
	GitCommit      string
	BuildDate      string
	DockerRegistry string
	DockerRepo     string
}

// Default build configuration
func defaultBuildConfig() *BuildConfig {
	return &BuildConfig{
		DockerRegistry: "ghcr.io",
		DockerRepo:     "toolgate-dev/toolgate",
		Version:        "v0.0.0-dev",
		GitCommit:      "unknown",
		BuildDate:      time.Now().UTC().Format("2006-01-02"),
	}
}

// Test runs all Go tests with coverage
func (m *Toolgate) Test(ctx context.Context, source *dagger.Directory) *dagger.Container {

	return dag.Container().
		From(FromImageGo).
		WithMountedDirectory("/src", source).
		WithWorkdir("/src").
		WithExec([]string{"apk", "add", "--no-cache", "git", "make", "go"}).
		WithExec([]string{"go", "mod", "tidy", "-v"}).
		WithExec([]string{"go", "mod", "download"}).
		WithExec([]string{"go", "test", "-v", "-cover", "./pkg/...", "./internal/..."})
}

// Lint runs golangci-lint on the codebase
func (m *Toolgate) Lint(ctx context.Context, source *dagger.Directory) *dagger.Container {
	return dag.Container().
		From("golangci/golangci-lint:v1.63.4-alpine").
		WithMountedDirectory("/src", source).
		WithWorkdir("/src").
		WithExec([]string{"golangci-lint", "run", "./..."})
}

// Format runs go fmt on the codebase
func (m *Toolgate) Format(ctx context.Context, source *dagger.Directory) *dagger.Directory {
	return dag.Container().
		From(FromImageGo).
		WithMountedDirectory("/src", source).
		WithWorkdir("/src").
		WithExec([]string{"go", "fmt", "./..."}).
		Directory("/src")
}

func ldflags(config *BuildConfig) string {
	return fmt.Sprintf("-X github.com/toolgate-dev/toolgate/internal/version.Version=%s -X github.com/toolgate-dev/toolgate/internal/version.GitCommit=%s -X github.com/toolgate-dev/toolgate/internal/version.BuildDate=%s",
		config.Version, config.GitCommit, config.BuildDate)
}

// Build creates binaries for multiple platforms
func (m *Toolgate) Build(ctx context.Context, source *dagger.Directory,
	// +optional
	version string,
	// +optional
	gitCommit string) *dagger.Directory {

	config := defaultBuildConfig()
	if version != "" {
		config.Version = version
	}
	if gitCommit != "" {
		config.GitCommit = gitCommit
	}

	platforms := []struct {
		os   string
		arch string
	}{
		{"linux", "amd64"},
		{"linux", "arm64"},
		{"darwin", "amd64"},
		{"darwin", "arm64"},
		{"windows", "amd64"},
	}

	builder := dag.Container().
		From(FromImageGo).
		WithMountedDirectory("/src", source).
		WithWorkdir("/src").
		WithExec([]string{"go", "mod", "download"})

	for _, platform := range platforms {
		suffix := ""
		if platform.os == "windows" {
			suffix = ".exe"
		}

		binaryName := fmt.Sprintf("toolgate-%s-%s%s", platform.os, platform.arch, suffix)

		builder = builder.WithEnvVariable("CGO_ENABLED", "0").
			WithEnvVariable("GOOS", platform.os).
			WithEnvVariable("GOARCH", platform.arch).
			WithExec([]string{"go", "build", "-ldflags", ldflags(config), "-o", fmt.Sprintf("/build/%s", binaryName), "./cmd"})
	}

	return builder.Directory("/build")
}

// BuildDocker creates a Docker image for the gateway
func (m *Toolgate) BuildDocker(ctx context.Context, source *dagger.Directory,
	// +optional
	version string,
	// +optional
	gitCommit string,
	// +optional
	platform string) *dagger.Container {

	config := defaultBuildConfig()
	if version != "" {
		config.Version = version
	}
	if gitCommit != "" {
		config.GitCommit = gitCommit
	}

	arch := os.Getenv("GOARCH")
	if platform == "" {
		platform = "linux/" + arch
	}

	buildStage := dag.Container().
		From("cgr.dev/chainguard/go:latest").
		WithMountedDirectory("/workspace", source).
		WithWorkdir("/workspace").
		WithExec([]string{"go", "mod", "download"}).
		WithExec([]string{"sh", "-c", fmt.Sprintf(`
			CGO_ENABLED=0 GOOS=linux GOARCH=%s go build -a -ldflags "%s" -o toolgate cmd/main.go
		`, arch, ldflags(config))})

	return dag.Container().
		From("gcr.io/distroless/static:nonroot").
		WithWorkdir("/").
		WithUser("65532:65532").
		WithFile("/toolgate", buildStage.File("/workspace/toolgate")).
		WithLabel("org.opencontainers.image.source", "https://github.com/toolgate-dev/toolgate").
		WithLabel("org.opencontainers.image.description", "Toolgate session-routing MCP gateway").
		WithLabel("org.opencontainers.image.version", config.Version).
		WithExposedPort(8001).
		WithExposedPort(8080).
		WithEntrypoint([]string{"/toolgate"})
}

// Integration runs the black-box gateway tests
func (m *Toolgate) Integration(ctx context.Context, source *dagger.Directory) *dagger.Container {
	return dag.Container().
		From(FromImageGo).
		WithMountedDirectory("/src", source).
		WithWorkdir("/src").
		WithExec([]string{"apk", "add", "--no-cache", "git", "make", "go"}).
		WithExec([]string{"go", "mod", "download"}).
		WithExec([]string{"go", "test", "-v", "-cover", "./test/integration/", "-timeout", "5m"})
}

// Publish publishes the Docker image to a registry
func (m *Toolgate) Publish(ctx context.Context, source *dagger.Directory,
	// +optional
	version string,
	// +optional
	gitCommit string,
	// +optional
	registry string,
	registryToken *dagger.Secret) (string, error) {

	config := defaultBuildConfig()
	if version != "" {
		config.Version = version
	}
	if gitCommit != "" {
		config.GitCommit = gitCommit
	}
	if registry == "" {
		registry = config.DockerRegistry
	}

	container := m.BuildDocker(ctx, source, version, gitCommit, "linux/amd64")

	imageRef := fmt.Sprintf("%s/%s:%s", registry, config.DockerRepo, config.Version)

	published, err := container.WithRegistryAuth(registry, "token", registryToken).Publish(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to publish image: %w", err)
	}

	return published, nil
}

// CI runs the complete CI pipeline: format, lint, test, build
func (m *Toolgate) CI(ctx context.Context, source *dagger.Directory,
	// +optional
	version string,
	// +optional
	gitCommit string) (*dagger.Directory, error) {

	formatted := m.Format(ctx, source)

	lintResult := m.Lint(ctx, formatted)
	if _, err := lintResult.Stdout(ctx); err != nil {
		return nil, fmt.Errorf("linting failed: %w", err)
	}

	testResult := m.Test(ctx, formatted)
	if _, err := testResult.Stdout(ctx); err != nil {
		return nil, fmt.Errorf("tests failed: %w", err)
	}

	buildResult := m.Build(ctx, formatted, version, gitCommit)

	return buildResult, nil
}

// Release performs a complete release: CI + Docker build + optional publish
func (m *Toolgate) Release(ctx context.Context, source *dagger.Directory,
	// +optional
	version string,
	// +optional
	gitCommit string,
	// +optional
	publish bool,
	// +optional
	registryToken *dagger.Secret) (*dagger.Container, error) {

	_, err := m.CI(ctx, source, version, gitCommit)
	if err != nil {
		return nil, fmt.Errorf("CI pipeline failed: %w", err)
	}

	dockerImage := m.BuildDocker(ctx, source, version, gitCommit, "linux/amd64")

	if publish && registryToken != nil {
		published, err := m.Publish(ctx, source, version, gitCommit, "", registryToken)
		if err != nil {
			return nil, fmt.Errorf("publish failed: %w", err)
		}
		fmt.Printf("Published image: %s\n", published)
	}

	return dockerImage, nil
}
