// Package workspace manages the directory a build job clones and builds in.
//
// Ephemeral mode creates a unique directory per deployment
// (e.g. pagedeploy-<deploymentID>-123456) and removes it after the job.
//
// Persistent mode uses a fixed directory (e.g. /work) that is emptied before
// each job and left in place afterwards, which suits containers that mount a
// volume for inspection of failed builds.
package workspace
