package main

import "os"

// No user signals on Windows; pausing needs an embedding caller.
var controlSignals = map[os.Signal]string{}
