package gis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"wildsync/internal/domain"
)

type attachmentEditResult struct {
	ObjectID int64             `json:"objectId"`
	Success  bool              `json:"success"`
	Error    *domain.EditError `json:"error"`
}

func (r attachmentEditResult) err(op string) error {
	if r.Success {
		return nil
	}
	apiErr := &APIError{StatusCode: http.StatusOK, Op: op, Code: http.StatusBadRequest}
	if r.Error != nil {
		apiErr.Code = r.Error.Code
		apiErr.Message = r.Error.Description
	}
	return apiErr
}

// Attachments 列出记录的附件。
func (l *Layer) Attachments(ctx context.Context, oid int64) ([]domain.AttachmentInfo, error) {
	var resp struct {
		AttachmentInfos []domain.AttachmentInfo `json:"attachmentInfos"`
	}
	endpoint := fmt.Sprintf("%s/%d/attachments", l.url, oid)
	if err := l.client.getJSON(ctx, endpoint, url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("列出附件失败 oid=%d: %w", oid, err)
	}
	return resp.AttachmentInfos, nil
}

// DownloadAttachment 下载附件内容。
func (l *Layer) DownloadAttachment(ctx context.Context, oid, attachmentID int64) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%d/attachments/%d", l.url, oid, attachmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	body, err := l.client.do(req, "downloadAttachment")
	if err != nil {
		return nil, fmt.Errorf("下载附件失败 oid=%d id=%d: %w", oid, attachmentID, err)
	}
	// 附件不存在时服务端仍返回 200 + JSON 错误体
	if len(body) > 0 && body[0] == '{' {
		var envelope struct {
			Error *errorBody `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			return nil, fmt.Errorf("下载附件失败 oid=%d id=%d: %w", oid, attachmentID, envelope.Error.toAPIError("downloadAttachment"))
		}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("下载附件失败 oid=%d id=%d: 空文件: %w", oid, attachmentID, domain.ErrNotFound)
	}
	return body, nil
}

// AddAttachment 上传附件，返回新附件 id。只有服务端报告 success 才算成功。
func (l *Layer) AddAttachment(ctx context.Context, oid int64, name string, data []byte) (int64, error) {
	var resp struct {
		Result attachmentEditResult `json:"addAttachmentResult"`
	}
	endpoint := fmt.Sprintf("%s/%d/addAttachment", l.url, oid)
	if err := l.client.postFile(ctx, endpoint, map[string]string{}, name, data, &resp); err != nil {
		return 0, fmt.Errorf("上传附件失败 oid=%d name=%s: %w", oid, name, err)
	}
	if err := resp.Result.err("addAttachment"); err != nil {
		return 0, fmt.Errorf("上传附件失败 oid=%d name=%s: %w", oid, name, err)
	}
	return resp.Result.ObjectID, nil
}

// UpdateAttachment 用新文件（含新文件名）替换已有附件。
func (l *Layer) UpdateAttachment(ctx context.Context, oid, attachmentID int64, name string, data []byte) error {
	var resp struct {
		Result attachmentEditResult `json:"updateAttachmentResult"`
	}
	endpoint := fmt.Sprintf("%s/%d/updateAttachment", l.url, oid)
	fields := map[string]string{"attachmentId": strconv.FormatInt(attachmentID, 10)}
	if err := l.client.postFile(ctx, endpoint, fields, name, data, &resp); err != nil {
		return fmt.Errorf("更新附件失败 oid=%d id=%d: %w", oid, attachmentID, err)
	}
	if err := resp.Result.err("updateAttachment"); err != nil {
		return fmt.Errorf("更新附件失败 oid=%d id=%d: %w", oid, attachmentID, err)
	}
	return nil
}

// DeleteAttachment 删除单个附件。
func (l *Layer) DeleteAttachment(ctx context.Context, oid, attachmentID int64) error {
	var resp struct {
		Results []attachmentEditResult `json:"deleteAttachmentResults"`
	}
	form := url.Values{}
	form.Set("attachmentIds", strconv.FormatInt(attachmentID, 10))
	endpoint := fmt.Sprintf("%s/%d/deleteAttachments", l.url, oid)
	if err := l.client.postForm(ctx, endpoint, form, &resp); err != nil {
		return fmt.Errorf("删除附件失败 oid=%d id=%d: %w", oid, attachmentID, err)
	}
	for _, r := range resp.Results {
		if err := r.err("deleteAttachments"); err != nil {
			return fmt.Errorf("删除附件失败 oid=%d id=%d: %w", oid, attachmentID, err)
		}
	}
	return nil
}
