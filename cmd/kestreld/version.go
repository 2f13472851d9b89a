package main

// overridden at build time with -ldflags "-X main.version=..."
var version = "dev"
