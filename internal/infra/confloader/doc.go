// Package confloader loads the gateway configuration.
//
// Configuration merges from three layers: the defaults the caller
// seeds, the YAML config file, and MESH2GRAM_-prefixed environment
// variables, each layer overriding the one below. A file watcher
// reloads the merged result when the file changes on disk, which also
// picks up the chat ID the gateway writes back after setup mode.
package confloader
