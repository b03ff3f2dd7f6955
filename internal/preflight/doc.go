// Package preflight provides readiness checks for the filesystem paths,
// tuner hardware and services the receiver depends on.
//
// These checks run in two contexts:
//   - The daemon runtime calls RunAll at startup and logs every failure so a
//     missing pipe directory or unreadable sysfs shows up before the first tune.
//   - The CLI "dvbrx status" command uses individual check functions
//     (CheckDirectoryAccess, CheckSysfs, CheckHeartbeat) to display health.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
