package bitrix

import (
	"context"
	"encoding/base64"
	"fmt"
)

// UploadFile stores content in a Drive folder via disk.folder.uploadfile.
func (c *Client) UploadFile(ctx context.Context, folderID int64, name string, content []byte) (DiskFile, error) {
	if folderID <= 0 {
		return DiskFile{}, fmt.Errorf("bitrix: disk.folder.uploadfile: folder id required")
	}
	params := map[string]any{
		"id":                 folderID,
		"data":               map[string]any{"NAME": name},
		"fileContent":        []string{name, base64.StdEncoding.EncodeToString(content)},
		"generateUniqueName": true,
	}
	var file DiskFile
	if err := c.Call(ctx, "disk.folder.uploadfile", params, &file); err != nil {
		return DiskFile{}, err
	}
	return file, nil
}

// DeleteFile removes a Drive file via disk.file.delete.
func (c *Client) DeleteFile(ctx context.Context, fileID int64) error {
	return c.Call(ctx, "disk.file.delete", map[string]any{"id": fileID}, nil)
}

// GetOption reads an application option (app.option.get).
func (c *Client) GetOption(ctx context.Context, key string) (string, error) {
	var value any
	if err := c.Call(ctx, "app.option.get", map[string]any{"option": key}, &value); err != nil {
		return "", err
	}
	return Entity{"v": value}.String("v"), nil
}

// SetOptions writes application options (app.option.set).
func (c *Client) SetOptions(ctx context.Context, options map[string]string) error {
	return c.Call(ctx, "app.option.set", map[string]any{"options": options}, nil)
}
