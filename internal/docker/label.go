package docker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Label key constants define the labels svcboot attaches to the images
// and containers it creates. Labels are the only record of build
// provenance on the Docker side; there is no external state file.
//
// All keys share the "svcboot." prefix so they never collide with labels
// set by base images or other tools.
const (
	// LabelPrefix is the common prefix for all svcboot labels.
	LabelPrefix = "svcboot."

	// LabelManagedBy identifies images and containers created by svcboot.
	// Key: "svcboot.managed-by", Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRecipe stores the recipe (image) name.
	LabelRecipe = LabelPrefix + "recipe"

	// LabelEntrypoint stores the "module:attr" application reference.
	LabelEntrypoint = LabelPrefix + "entrypoint"

	// LabelDefaultPort stores the port used when PORT is not set.
	LabelDefaultPort = LabelPrefix + "default-port"

	// LabelManifestDigest stores the digest of the dependency manifest
	// the install layer was built from.
	LabelManifestDigest = LabelPrefix + "manifest-digest"

	// LabelSourceDigest stores the digest of the copied source tree.
	LabelSourceDigest = LabelPrefix + "source-digest"

	// LabelCreatedAt stores the RFC3339 build time.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value of the LabelManagedBy label.
const ManagedByValue = "svcboot"

// BuildLabels constructs the label map recorded on a built image.
// The digests let `svcboot images` show which manifest and source
// revision an image came from without inspecting its layers.
func BuildLabels(recipe *model.Recipe, manifestDigest, sourceDigest string, createdAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy:      ManagedByValue,
		LabelRecipe:         recipe.Name,
		LabelEntrypoint:     recipe.Entrypoint,
		LabelDefaultPort:    strconv.Itoa(recipe.DefaultPort),
		LabelManifestDigest: manifestDigest,
		LabelSourceDigest:   sourceDigest,
		// UTC keeps the value independent of the build host's timezone.
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// ContainerLabels returns the labels applied to containers started by
// `svcboot run`: the managed-by marker plus the image's recipe name.
func ContainerLabels(recipeName string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRecipe:    recipeName,
	}
}

// ParseLabels reconstructs image metadata from its labels. It is the
// inverse of BuildLabels.
//
// Required labels: managed-by, recipe, created-at. The digests,
// entrypoint and default port are optional so images built by older
// versions still list.
func ParseLabels(labels map[string]string) (*model.ImageInfo, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelRecipe,
		LabelCreatedAt,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	info := &model.ImageInfo{
		Recipe:         labels[LabelRecipe],
		Entrypoint:     labels[LabelEntrypoint],
		ManifestDigest: labels[LabelManifestDigest],
		SourceDigest:   labels[LabelSourceDigest],
		CreatedAt:      createdAt,
	}

	if raw, ok := labels[LabelDefaultPort]; ok {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid label %s=%q: %w", LabelDefaultPort, raw, err)
		}
		info.DefaultPort = port
	}

	return info, nil
}

// FilterLabel returns the "key=value" filter expression that selects
// svcboot-managed objects in Docker list calls.
func FilterLabel() string {
	return LabelManagedBy + "=" + ManagedByValue
}
