// Package cron parses queue schedules and answers window questions about
// them: whether a schedule fires in a given second, when it fires next,
// and which activation is the latest one in a window. Expressions use six
// fields with seconds resolution, plus descriptors such as "@hourly" and
// "@every 30s".
package cron
