// Package build turns a recipe, a dependency manifest and a source tree
// into a runtime image.
//
// A build is a fixed sequence of steps (see model.StepKinds). Every step
// gets a cache key chained from its parent's key, its instruction and the
// digest of the files it consumes. Because the manifest is copied and
// installed before the source tree, a source-only change leaves the
// install step's key untouched and the installed dependencies are reused.
//
// Two back ends consume the plan:
//   - Builder executes the filesystem steps locally into a Store of
//     content-addressed layers and writes an image record.
//   - RenderDockerfile emits the equivalent Dockerfile for the Docker
//     daemon (see the docker package).
package build
