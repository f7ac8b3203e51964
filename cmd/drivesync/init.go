package main

import (
	"context"

	"drivesync/internal/driveapi"
	"drivesync/internal/layout"
)

func initDriveStructure(ctx context.Context, token, folderPath, primaryKeyField, apiEndpoint string) (layout.DriveStructure, error) {
	client := driveapi.New(apiEndpoint, token)
	return layout.InitDriveStructure(ctx, client, layout.Options{
		FolderPath:      folderPath,
		PrimaryKeyField: primaryKeyField,
	})
}
