// Package capture provides frame sources for quality assessment runs.
//
// A FrameSource exposes a captured scene as an indexed sequence of
// decoded frames with fixed dimensions. The engine treats an unreadable
// frame as absent (nil, nil), never as a fatal error. DirectorySource is
// the production implementation over a directory of still images.
package capture
