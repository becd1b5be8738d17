/*
Package config is the only place startup tunables are read. It layers three
sources with koanf, lowest priority first: built-in defaults, an optional
YAML file (SLAVED_CONFIG or an explicit path), and SLAVED_-prefixed
environment variables. Nothing here is watched or reloaded — per the
tunables' own definition, they are read once at startup.
*/
package config
