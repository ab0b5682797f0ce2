// Package plugin records build, routine and model plugin descriptors in an
// explicit Registry. Registration validates the descriptor contract and
// introspects declared parameters and their help text from the plugin's
// argument prototype.
package plugin
