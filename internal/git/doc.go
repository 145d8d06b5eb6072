// Package git clones the repository a build job deploys.
//
// Two strategies are provided: GoGitCloner clones in-process with go-git and
// CommandCloner shells out to the git binary. Clone failures are wrapped in
// typed errors so callers can log a precise cause while reporting a single
// clone failure reason.
package git
