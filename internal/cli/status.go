// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/promptlab/internal/telemetry"
)

// HandleStatus shows configuration, storage and provider readiness, plus
// the number of exchanges in the last 24 hours.
func HandleStatus(args Args) error {
	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := StatusData{
		ConfigPath:    app.ConfigPath,
		Storage:       app.Config.Storage.Driver,
		StoragePath:   app.StoragePath,
		Providers:     []string{},
		Skipped:       []string{},
		RetentionDays: app.Config.Analytics.RetentionDays,
		ListenAddr:    app.Config.Server.Addr(),
	}
	if app.Orchestrator != nil {
		data.Providers = app.Orchestrator.Priority()
	}
	if len(app.Skipped) > 0 {
		data.Skipped = app.Skipped
	}

	storageStatus := "ok"
	recent, err := app.Metrics.Query(ctx, telemetry.GlobalScope(), time.Now().Add(-24*time.Hour))
	if err != nil {
		storageStatus = "error"
	}
	data.Exchanges24h = len(recent)

	if args.JSON {
		return NewJSONResponse("status", data).Print()
	}

	fmt.Println(TitleStyle.Render("promptlab status"))
	printField("Version:", Version)
	printField("Config:", data.ConfigPath)
	if data.StoragePath != "" {
		printField("Storage:", RenderStatus(storageStatus)+" "+data.Storage+" "+DimStyle.Render(data.StoragePath))
	} else {
		printField("Storage:", RenderStatus(storageStatus)+" "+data.Storage)
	}
	if len(data.Providers) == 0 {
		printField("Providers:", RenderStatus("fail")+" none usable (set an API key)")
	} else {
		printField("Providers:", RenderStatus("ok")+" "+strings.Join(data.Providers, " -> "))
	}
	if len(data.Skipped) > 0 {
		printField("Skipped:", RenderStatus("skipped")+" "+strings.Join(data.Skipped, ", "))
	}
	printField("Exchanges (24h):", formatNumber(data.Exchanges24h))
	printField("Retention:", fmt.Sprintf("%d days", data.RetentionDays))
	printField("Listen address:", data.ListenAddr)
	return nil
}
