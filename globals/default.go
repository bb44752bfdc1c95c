package globals

import "github.com/hashicorp/go-hclog"

// AppLogger is the process wide logger, the level is adjusted once the configuration is read.
var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "lightspeed-whiteboard",
	Level: hclog.LevelFromString("INFO"),
})
