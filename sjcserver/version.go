package sjcserver

// Version is the server version.  Typically injected via ldflags with git build.
var Version = "1.0.0"
