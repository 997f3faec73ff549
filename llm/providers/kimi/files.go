package kimi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
)

// Moonshot 文件接口：上传文件（purpose=file-extract）后可取回抽取出的纯文本，
// 用于把本地资料目录转换为会话上下文。

const filePurposeExtract = "file-extract"

// UploadFile 上传本地文件用于内容抽取，返回文件元数据。
func (p *Provider) UploadFile(ctx context.Context, path string) (*llm.FileObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := w.WriteField("purpose", filePurposeExtract); err != nil {
		return nil, fmt.Errorf("write purpose field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint("/v1/files"), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var file llm.FileObject
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode file object: %w", err)
	}
	return &file, nil
}

// FileContent 取回已上传文件抽取出的文本内容。
func (p *Provider) FileContent(ctx context.Context, fileID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint("/v1/files/"+fileID+"/content"), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file content: %w", err)
	}
	return string(data), nil
}

// ListFiles 列出已上传的文件。
func (p *Provider) ListFiles(ctx context.Context) ([]llm.FileObject, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint("/v1/files"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var listResp struct {
		Data []llm.FileObject `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return listResp.Data, nil
}

// DeleteFile 删除已上传的文件。
func (p *Provider) DeleteFile(ctx context.Context, fileID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.Endpoint("/v1/files/"+fileID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return nil
}

// CleanupFiles 删除 Provider 侧所有遗留的上传文件。
// 在进程启动时调用，避免旧文件占用配额。
func (p *Provider) CleanupFiles(ctx context.Context) error {
	files, err := p.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		p.Logger.Info("deleting stale file", zap.String("file_id", f.ID), zap.String("filename", f.Filename))
		if err := p.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// ExtractFile 上传文件并取回抽取文本，实现 bot.FileExtractor。
func (p *Provider) ExtractFile(ctx context.Context, path string) (string, error) {
	file, err := p.UploadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return p.FileContent(ctx, file.ID)
}
