package pipeline

import (
	"context"
	"fmt"
)

// Stage is a discrete unit of work in a build job.
type Stage func(ctx context.Context, job *BuildJob) error

// StageName is a strongly-typed identifier for a build stage.
type StageName string

// Canonical stage names, in execution order.
const (
	StageClone           StageName = "clone"
	StageDetectFramework StageName = "detect_framework"
	StageInstall         StageName = "install"
	StageBuild           StageName = "build"
	StageLocateOutput    StageName = "locate_output"
	StageUpload          StageName = "upload"
)

// StageOrder returns the fixed stage order of a build job.
func StageOrder() []StageName {
	return []StageName{StageClone, StageDetectFramework, StageInstall, StageBuild, StageLocateOutput, StageUpload}
}

// StageDef pairs a stage name with its executing function, the failure reason
// reported when it fails, and the log lines emitted around it.
type StageDef struct {
	Name   StageName
	Fn     Stage
	Reason FailureReason
	// Start and Done render the events emitted before and after the stage.
	// Nil falls back to a generic message.
	Start func(job *BuildJob) string
	Done  func(job *BuildJob) string
}

func (d StageDef) startMessage(job *BuildJob) string {
	if d.Start != nil {
		return d.Start(job)
	}
	return fmt.Sprintf("Starting %s...", d.Name)
}

func (d StageDef) doneMessage(job *BuildJob) string {
	if d.Done != nil {
		return d.Done(job)
	}
	return fmt.Sprintf("Finished %s", d.Name)
}

// Pipeline is a fluent builder for ordered stage definitions.
type Pipeline struct{ Defs []StageDef }

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline { return &Pipeline{Defs: make([]StageDef, 0, 6)} }

// Add appends a stage.
func (p *Pipeline) Add(def StageDef) *Pipeline {
	p.Defs = append(p.Defs, def)
	return p
}

// AddIf appends a stage only if cond is true.
func (p *Pipeline) AddIf(cond bool, def StageDef) *Pipeline {
	if cond {
		p.Add(def)
	}
	return p
}

// Build returns a copy of the stage definitions slice.
func (p *Pipeline) Build() []StageDef {
	out := make([]StageDef, len(p.Defs))
	copy(out, p.Defs)
	return out
}
