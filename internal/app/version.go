package app

// Version is stamped at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"
