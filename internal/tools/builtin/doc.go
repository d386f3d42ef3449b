// Package builtin provides the tools that ship with the assistant.
//
// These are thin wrappers over the desktop: the work itself happens in a
// Desktop implementation or the standard library, and each tool only
// checks its arguments and formats a result.
//
// Tools:
//   - open_application: Launch an application by name
//   - quit_application: Quit a running application
//   - get_system_info: Report OS, hardware, user and clock details
//   - search_files: Find files by name under a directory
//   - move_window: Place an application's front window on screen
package builtin
