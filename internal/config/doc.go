// Package config loads svcboot configuration from two sources: the
// recipe file that sits in the build context (YAML, JSONC or TOML) and
// the process environment read once at launch.
//
// Recipe values override the built-in defaults field by field, so a
// recipe only needs to list what differs from the default Python/ASGI
// service layout. JSON recipes may contain comments and trailing commas;
// they are stripped with github.com/tidwall/jsonc before decoding.
package config
