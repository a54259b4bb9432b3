// Package source enumerates, fingerprints and packages the application
// source tree that the copy-source build step places into the image.
//
// The tree is what `COPY . .` would copy: every file under the context
// root except those excluded by .dockerignore and the recipe's ignore
// patterns. Symlinks are kept as links. A recipe can opt in to listing
// files with `git ls-files --cached --others --exclude-standard`, which
// also drops anything .gitignore excludes.
//
// The tree digest covers every included file's path, mode and content.
// It is the cache input of the copy-source layer.
package source
