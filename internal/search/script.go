package search

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/liuzl/gocc"
)

// ScriptConverter converts a title between Chinese script forms. Convert
// returns false when the text has nothing to convert.
type ScriptConverter interface {
	Convert(text string) (string, bool)
}

// TableConverter maps runes one to one in both directions. Simplified to
// traditional is tried first; if no rune changes the reverse table is used.
type TableConverter struct {
	forward map[rune]rune
	reverse map[rune]rune
}

func NewTableConverter(pairs map[rune]rune) *TableConverter {
	c := &TableConverter{
		forward: make(map[rune]rune, len(pairs)),
		reverse: make(map[rune]rune, len(pairs)),
	}
	for from, to := range pairs {
		if from == to {
			continue
		}
		c.forward[from] = to
		if _, exists := c.reverse[to]; !exists {
			c.reverse[to] = from
		}
	}
	return c
}

func (c *TableConverter) Convert(text string) (string, bool) {
	if out, ok := mapRunes(text, c.forward); ok {
		return out, true
	}
	return mapRunes(text, c.reverse)
}

func mapRunes(text string, table map[rune]rune) (string, bool) {
	if len(table) == 0 {
		return text, false
	}
	out := []rune(text)
	changed := false
	for i, r := range out {
		if mapped, ok := table[r]; ok {
			out[i] = mapped
			changed = true
		}
	}
	if !changed {
		return text, false
	}
	return string(out), true
}

// OpenCCConverter converts with the OpenCC phrase and character
// dictionaries, simplified to traditional first and then the reverse.
type OpenCCConverter struct {
	toTraditional *gocc.OpenCC
	toSimplified  *gocc.OpenCC
}

func NewOpenCCConverter() (*OpenCCConverter, error) {
	s2t, err := gocc.New("s2t")
	if err != nil {
		return nil, fmt.Errorf("load s2t dictionaries: %w", err)
	}
	t2s, err := gocc.New("t2s")
	if err != nil {
		return nil, fmt.Errorf("load t2s dictionaries: %w", err)
	}
	return &OpenCCConverter{toTraditional: s2t, toSimplified: t2s}, nil
}

func (c *OpenCCConverter) Convert(text string) (string, bool) {
	for _, cc := range []*gocc.OpenCC{c.toTraditional, c.toSimplified} {
		out, err := cc.Convert(text)
		if err == nil && out != text {
			return out, true
		}
	}
	return text, false
}

var defaultConverter = sync.OnceValue(func() ScriptConverter {
	converter, err := NewOpenCCConverter()
	if err != nil {
		slog.Default().Warn("opencc unavailable, using the built-in script table", slog.String("error", err.Error()))
		return NewTableConverter(simplifiedToTraditional)
	}
	return converter
})

// DefaultScriptConverter returns the shared OpenCC converter, or the
// built-in table of title characters when the dictionaries fail to load.
func DefaultScriptConverter() ScriptConverter {
	return defaultConverter()
}

var simplifiedToTraditional = map[rune]rune{
	'万': '萬', '与': '與', '专': '專', '业': '業', '东': '東', '丝': '絲', '两': '兩', '严': '嚴',
	'个': '個', '临': '臨', '为': '為', '丽': '麗', '举': '舉', '义': '義', '乐': '樂', '乔': '喬',
	'书': '書', '买': '買', '乱': '亂', '争': '爭', '亚': '亞', '产': '產', '亲': '親', '从': '從',
	'仑': '侖', '们': '們', '价': '價', '众': '眾', '优': '優', '传': '傳', '伤': '傷', '伦': '倫',
	'侠': '俠', '侦': '偵', '儿': '兒', '党': '黨', '兰': '蘭', '关': '關', '兴': '興', '军': '軍',
	'冲': '衝', '决': '決', '况': '況', '冻': '凍', '净': '淨', '凤': '鳳', '击': '擊', '刘': '劉',
	'则': '則', '刚': '剛', '创': '創', '别': '別', '剑': '劍', '剧': '劇', '动': '動', '务': '務',
	'华': '華', '单': '單', '卖': '賣', '卫': '衛', '却': '卻', '历': '歷', '厅': '廳', '县': '縣',
	'发': '發', '变': '變', '叶': '葉', '号': '號', '后': '後', '吗': '嗎', '听': '聽', '响': '響',
	'团': '團', '园': '園', '国': '國', '图': '圖', '圣': '聖', '场': '場', '坏': '壞', '块': '塊',
	'处': '處', '备': '備', '复': '復', '头': '頭', '夺': '奪', '奋': '奮', '奖': '獎', '妈': '媽',
	'学': '學', '宝': '寶', '实': '實', '宫': '宮', '宽': '寬', '对': '對', '寻': '尋', '导': '導',
	'将': '將', '尔': '爾', '尘': '塵', '层': '層', '岁': '歲', '岛': '島', '币': '幣', '师': '師',
	'带': '帶', '帮': '幫', '广': '廣', '庄': '莊', '庆': '慶', '应': '應', '开': '開', '异': '異',
	'弹': '彈', '归': '歸', '录': '錄', '彻': '徹', '忆': '憶', '怀': '懷', '态': '態', '恋': '戀',
	'恶': '惡', '悬': '懸', '惊': '驚', '战': '戰', '戏': '戲', '执': '執', '扩': '擴', '护': '護',
	'报': '報', '拥': '擁', '择': '擇', '换': '換', '据': '據', '摄': '攝', '数': '數', '敌': '敵',
	'断': '斷', '无': '無', '旧': '舊', '时': '時', '显': '顯', '晓': '曉', '暂': '暫', '术': '術',
	'机': '機', '杀': '殺', '条': '條', '来': '來', '杰': '傑', '极': '極', '权': '權',
	'树': '樹', '样': '樣', '桥': '橋', '梦': '夢', '检': '檢', '欢': '歡', '气': '氣', '汉': '漢',
	'没': '沒', '沧': '滄', '泪': '淚', '洁': '潔', '浅': '淺', '测': '測', '济': '濟', '浓': '濃',
	'涛': '濤', '润': '潤', '满': '滿', '灭': '滅', '灵': '靈', '灾': '災', '炼': '煉',
	'热': '熱', '爱': '愛', '爷': '爺', '牵': '牽', '犹': '猶', '狱': '獄', '独': '獨', '猎': '獵',
	'献': '獻', '环': '環', '现': '現', '电': '電', '画': '畫', '畅': '暢', '疗': '療', '盖': '蓋',
	'盘': '盤', '监': '監', '着': '著', '离': '離', '种': '種', '称': '稱', '穷': '窮', '笔': '筆',
	'简': '簡', '类': '類', '红': '紅', '约': '約', '级': '級', '纪': '紀', '纯': '純', '纸': '紙',
	'线': '線', '练': '練', '组': '組', '经': '經', '绝': '絕', '统': '統', '继': '繼', '续': '續',
	'缘': '緣', '网': '網', '罗': '羅', '习': '習', '联': '聯', '声': '聲',
	'脑': '腦', '节': '節', '苏': '蘇', '药': '藥', '获': '獲', '虫': '蟲', '虽': '雖',
	'蛮': '蠻', '补': '補', '见': '見', '规': '規', '视': '視', '览': '覽', '觉': '覺', '观': '觀',
	'计': '計', '记': '記', '许': '許', '设': '設', '访': '訪', '证': '證', '评': '評', '识': '識',
	'话': '話', '诞': '誕', '说': '說', '请': '請', '读': '讀', '谁': '誰', '谈': '談', '谋': '謀',
	'谜': '謎', '贝': '貝', '财': '財', '贵': '貴', '费': '費', '贼': '賊', '资': '資', '赛': '賽',
	'赵': '趙', '车': '車', '转': '轉', '轮': '輪', '软': '軟', '轻': '輕', '辈': '輩', '边': '邊',
	'达': '達', '过': '過', '运': '運', '还': '還', '进': '進', '远': '遠', '连': '連', '迟': '遲',
	'选': '選', '递': '遞', '逻': '邏', '遗': '遺', '邓': '鄧', '邮': '郵', '酱': '醬', '释': '釋',
	'里': '裡', '钟': '鐘', '钢': '鋼', '钱': '錢', '铁': '鐵', '银': '銀', '锋': '鋒', '错': '錯',
	'长': '長', '门': '門', '闪': '閃', '问': '問', '间': '間', '闻': '聞', '阳': '陽', '阴': '陰',
	'阵': '陣', '际': '際', '陆': '陸', '险': '險', '随': '隨', '隐': '隱', '难': '難', '雾': '霧',
	'静': '靜', '页': '頁', '顶': '頂', '项': '項', '顺': '順', '顾': '顧', '风': '風', '飞': '飛',
	'饭': '飯', '马': '馬', '驾': '駕', '验': '驗', '骑': '騎', '鱼': '魚', '鸟': '鳥', '鸡': '雞',
	'龙': '龍', '龟': '龜', '盗': '盜',
}
