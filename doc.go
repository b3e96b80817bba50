// Package logrotor is a size-triggered log rotation engine. Each stream writes
// to one active file. When the file reaches its size limit it is closed, moved
// into the stream's archive directory as generation 1 (older generations shift
// up, and the oldest past the limit are deleted), and a fresh file takes its
// place. Archived files are gzipped in the background by a compressor.Worker,
// and a retention.Sweeper moves or deletes them once they age out.
//
// A Stream is an io.Writer, so it plugs directly into log.SetOutput or a
// slog handler. Writers never wait on compression or retention; they only
// block for the brief moment a rotation swaps files.
//
// Disk layout for a stream named "app" with the defaults:
//
//	{BaseDir}/app/app.log              active file
//	{BaseDir}/app/archived/app.log.1   newest generation (app.log.1.gz once compressed)
//	{BaseDir}/app/deleted/             where move-to sweeps put expired files
//
// Inspired by https://github.com/natefinch/lumberjack.
package logrotor
