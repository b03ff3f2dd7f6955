// Package combituner drives the CombiTuner DVB-T/T2 receiver process.
//
// Unlike longmynd the receiver has no status pipe: startup milestones,
// lock changes and signal readings all arrive on its terminal output.
package combituner
