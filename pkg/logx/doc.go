// Package logx is the daemon's structured logging, a thin wrapper over zerolog.
//
// Console output is human-readable (short timestamp, short caller); the
// optional file sink is JSON. In native messaging mode the console goes to
// stderr because stdout carries protocol frames.
package logx
