// Package model defines the domain types for the svcboot CLI.
//
// The types describe the two phases of a service bootstrap: the build
// phase (Recipe, Requirement, BuildStep, ImageRecord) and the launch
// phase (Entrypoint, ImageInfo, ContainerInfo). CLIError and ExitCode translate domain
// failures into process exit statuses.
package model
