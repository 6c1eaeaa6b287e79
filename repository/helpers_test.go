package repository

import (
	"strconv"

	"github.com/sgic-platform/sgic-audit/config"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func testConfig() config.AuditConfig { return config.DefaultAudit() }
