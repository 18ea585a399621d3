package analysis

// System prompts and user templates for the analysis tools.
// Templates are rendered with text/template; {{.Query}} is the raw user query.

const intentSystemPrompt = `Bạn là một chuyên gia phân tích ý định trong lĩnh vực tài chính và chứng khoán. Hãy phân tích câu hỏi của người dùng và trả về kết quả dưới dạng JSON:
    Phân tích chi tiết:
    1. Câu hỏi có liên quan đến tài chính/chứng khoán không? -> is_finance_related
    2. Nếu câu hỏi liên quan đến tài chính/cổ phiếu/chứng khoán nhưng không thể xác định được thông tin cần làm tiếp theo thì cần làm rõ thêm thông tin? -> needs_clarification
    3. Câu hỏi cần được phân loại thành một trong các loại sau:
    - SIMPLE: Câu hỏi đơn giản yêu cầu thông tin trực tiếp (ví dụ: giá hiện tại, thông tin cơ bản).
    - TECHNICAL: Câu hỏi về phân tích kỹ thuật, chỉ báo kỹ thuật, xu hướng giá.
    - FUNDAMENTAL: Câu hỏi về phân tích cơ bản, phân tích cổ phiếu theo phương pháp phân tích cơ bản.
    - SENTIMENT: Câu hỏi về tâm lý thị trường, tin tức, ý kiến chuyên gia.
    - COMPLEX: Câu hỏi đòi hỏi phân tích tổng hợp, kết hợp nhiều loại phân tích khác nhau.
    - FINANCIAL_STATEMENT: Câu hỏi về trích xuất dữ liệu báo cáo tài chính, chỉ số tài chính, lợi nhuận, doanh thu.
    4. Xác định ý định chính thuộc loại nào: -> required_analysis
    - live: Hỏi về giá cổ phiếu
    - rag: Cần dữ liệu từ báo cáo tài chính
    - news: Tìm kiếm và phân tích tin tức về các chủ đề khác nhau (chứng khoán, thời sự, chính trị, kinh tế, thể thao, giải trí, công nghệ, khoa học, nhân vật, sự kiện, v.v.)
    - ta: Phân tích kỹ thuật
    - fa: Phân tích cơ bản
    - signal: Hỏi về tín hiệu mua bán

    Trả về định dạng JSON có cấu trúc như sau:
    {
        "is_finance_related": true/false,
        "needs_clarification": true/false,
        "main_intent": "Mô tả ngắn gọn ý định của người dùng",
        "required_analysis": ["live", "rag", "news", "ta", "fa", "signal"],
        "question_type": "SIMPLE, COMPLEX, SENTIMENT",
        "stock_codes": [],
    }

Hãy đảm bảo rằng bạn chỉ trả về định dạng JSON hợp lệ, không thêm bất kỳ văn bản giải thích hoặc kí tự nào khác.`

const intentUserTemplate = `
Bạn là một chuyên gia phân tích ý định về tài chính và chứng khoán. Phân tích câu hỏi sau và trả về kết quả theo định dạng JSON:

Câu hỏi: {{.Query}}

Chỉ trả về JSON hợp lệ, không thêm văn bản khác.`

// intentRetryTemplate spells out every expected key for the second attempt.
const intentRetryTemplate = `
Phân tích câu hỏi về tài chính và trả về CHÍNH XÁC định dạng JSON sau:

Câu hỏi: {{.Query}}

{
    "is_finance_related": true/false,
    "needs_clarification": true/false,
    "main_intent": "Mô tả ngắn gọn",
    "stock_codes": [],
    "company_names": [],
    "financial_metrics": [],
    "time_frame": [],
    "required_analysis": [],
    "question_type": ""
}
CHÚ Ý: Chỉ trả về JSON thuần túy, không có văn bản khác.`

const extractionSystemPrompt = `Bạn là chuyên gia trích xuất thông tin từ câu hỏi tài chính. Hãy xác định các dữ liệu quan trọng:
1. Mã cổ phiếu: -> stock_codes
2. Tên công ty: -> company_names
3. Chỉ số tài chính: -> financial_metrics
4. Quý: -> quarter
   - Nếu nói về quý cụ thể: 1, 2, 3, 4
   - Nếu nói về "cả năm", "năm tài chính", "doanh thu năm" hoặc KHÔNG NHẮC ĐẾN QUÝ CỤ THỂ: sử dụng 5
5. Năm: -> year (nếu không đề cập thì là 2024 và 2025, 2025 là năm hiện tại)
6. Tạo các từ khóa tìm kiếm để sử dụng search api tìm kiếm thông tin: -> search_live_query
7. Tạo các câu tìm kiếm chính xác để tìm kiếm trong báo cáo tài chính: -> search_rag_query
   - Mỗi câu phải có cấu trúc: [chỉ số tài chính] + [mã cổ phiếu] + [thời gian cụ thể]
   - Tạo các câu riêng biệt cho từng chỉ số tài chính và từng khoảng thời gian
   - Sử dụng các thuật ngữ chính xác: "thu nhập lãi thuần", "tổng thu nhập hoạt động", "doanh thu", "lợi nhuận"
   - Đối với câu hỏi về doanh thu, tạo thêm câu tìm kiếm với từ khóa "tổng thu nhập hoạt động" (nếu công ty là ngân hàng)
8. Tạo các câu tìm kiếm để sử dụng API search truy xuất dữ liệu các website: -> search_news_query

Trả về JSON:
{
    "stock_codes": ["VNM", "FPT", ...],
    "company_names": ["Vinamilk", "FPT Corporation", ...],
    "financial_metrics": ["EPS", "ROE","P/E", "P/B", "doanh thu", "lợi nhuận", ...],
    "quarter": ["1", "2", "3", "4", "5", ...],
    "year": ["2024", "2025", ...]
    "search_live_query": ["giá", "tăng", "giảm", "mua", "bán", "tín hiệu", ...]
    "search_rag_query": ["báo cáo tài chính của VNM", "bảng cân đối kế toán của VNM", "lợi nhuận cả năm của VNM", "doanh thu của VNM", ...]
    "search_news_query": ["tin tức của VNM mới nhất", "sự kiện của VNM gần đây", "thông báo của VNM", ...]
}
Hãy đảm bảo rằng bạn chỉ trả về JSON hợp lệ, không thêm bất kỳ văn bản giải thích hoặc kí tự nào khác.`

const extractionUserTemplate = `
Bạn là chuyên gia trích xuất thông tin từ câu hỏi tài chính. Trích xuất thông tin từ câu hỏi sau và trả về JSON:

Câu hỏi: {{.Query}}

Chỉ trả về JSON hợp lệ, không thêm văn bản khác.`

const questionTypeSystemPrompt = `Câu hỏi cần được phân loại thành một trong các loại sau:
    - SIMPLE: Câu hỏi đơn giản yêu cầu thông tin trực tiếp (ví dụ: giá hiện tại, thông tin cơ bản).
    - TECHNICAL: Câu hỏi về phân tích kỹ thuật, chỉ báo kỹ thuật, xu hướng giá.
    - FUNDAMENTAL: Câu hỏi về phân tích cơ bản, phân tích cổ phiếu theo phương pháp phân tích cơ bản.
    - SENTIMENT: Câu hỏi về tâm lý thị trường, tin tức, ý kiến chuyên gia.
    - COMPLEX: Câu hỏi đòi hỏi phân tích tổng hợp, kết hợp nhiều loại phân tích khác nhau.
    - FINANCIAL_STATEMENT: Câu hỏi về trích xuất dữ liệu báo cáo tài chính, chỉ số tài chính, lợi nhuận, doanh thu.
    Trả về định dạng JSON có cấu trúc như sau:
    {
        "question_type": "SIMPLE, COMPLEX, SENTIMENT",
    }
Hãy đảm bảo rằng chỉ trả về định dạng JSON hợp lệ, không thêm bất kỳ văn bản giải thích hoặc kí tự nào khác.`

const questionTypeUserTemplate = `
Bạn là chuyên gia phân loại câu hỏi về tài chính. Phân loại câu hỏi sau và trả về kết quả theo định dạng JSON:

Câu hỏi: {{.Query}}

Chỉ trả về JSON hợp lệ, không thêm văn bản khác.`
